package domain

import "time"

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

type DeviceState string

const (
	DeviceStateUnassigned DeviceState = "UNASSIGNED"
	DeviceStatePending    DeviceState = "PENDING"
	DeviceStateActive     DeviceState = "ACTIVE"
	DeviceStateLocked     DeviceState = "LOCKED"
	DeviceStateRemoved    DeviceState = "REMOVED"
)

// Device tracks the lifecycle of a physical unit separately from the
// customer it is financed to, so the unit can be reclaimed and reassigned.
type Device struct {
	ID                 string      `json:"deviceId"`
	Platform           Platform    `json:"platform"`
	DealerID           string      `json:"dealerId,omitempty"`
	State              DeviceState `json:"state"`
	AssignedCustomerID *string     `json:"assignedCustomerId"`

	Brand       string `json:"brand,omitempty"`
	Model       string `json:"model,omitempty"`
	OSVersion   string `json:"osVersion,omitempty"`
	IMEI1       string `json:"imei1,omitempty"`
	IMEI2       string `json:"imei2,omitempty"`
	AndroidID   string `json:"androidId,omitempty"`
	SimOperator string `json:"simOperator,omitempty"`
	SimICCID    string `json:"simIccid,omitempty"`

	StateHistory []StateChange `json:"stateHistory"`

	EnrollmentToken          string     `json:"enrollmentToken,omitempty"`
	EnrollmentTokenExpiresAt *time.Time `json:"enrollmentTokenExpiresAt,omitempty"`

	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type StateChange struct {
	State     DeviceState `json:"state"`
	ChangedAt time.Time   `json:"changedAt"`
	Reason    string      `json:"reason"`
	ChangedBy string      `json:"changedBy"`
}

func (d *Device) CustomerID() string {
	if d.AssignedCustomerID == nil {
		return ""
	}
	return *d.AssignedCustomerID
}

// MirrorTechnical copies agent-reported facts from the customer record.
func (d *Device) MirrorTechnical(c *Customer) {
	t := c.DeviceStatus.Technical
	if t.Brand != "" {
		d.Brand = t.Brand
	}
	if t.Model != "" {
		d.Model = t.Model
	}
	if t.OSVersion != "" {
		d.OSVersion = t.OSVersion
	}
	if t.AndroidID != "" {
		d.AndroidID = t.AndroidID
	}
	if c.IMEI1 != "" {
		d.IMEI1 = c.IMEI1
	}
	if c.IMEI2 != "" {
		d.IMEI2 = c.IMEI2
	}
	if c.SimDetails != nil {
		d.SimOperator = c.SimDetails.Operator
		d.SimICCID = c.SimDetails.SerialNumber
	}
}

// TokenValid reports whether token is the device's unexpired enrollment token.
func (d *Device) TokenValid(token string, now time.Time) bool {
	if token == "" || d.EnrollmentToken == "" || token != d.EnrollmentToken {
		return false
	}
	return d.EnrollmentTokenExpiresAt == nil || now.Before(*d.EnrollmentTokenExpiresAt)
}

type CreateDeviceRequest struct {
	Platform Platform `json:"platform" validate:"omitempty,oneof=android ios"`
	DealerID string   `json:"dealerId"`
	IMEI1    string   `json:"imei1" validate:"omitempty,numeric,len=15"`
	IMEI2    string   `json:"imei2" validate:"omitempty,numeric,len=15"`
	Model    string   `json:"model" validate:"max=100"`
}

type IssueTokenRequest struct {
	CustomerID string `json:"customerId" validate:"max=64"`
}

type IssueTokenResponse struct {
	DeviceID  string      `json:"deviceId"`
	State     DeviceState `json:"state"`
	Token     string      `json:"enrollmentToken"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type RemoveDeviceRequest struct {
	Reason string `json:"reason" validate:"max=300"`
}
