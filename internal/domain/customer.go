package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID           string `json:"id"`
	DealerID     string `json:"dealerId,omitempty"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Address      string `json:"address,omitempty"`
	IMEI1        string `json:"imei1"`
	ExpectedIMEI string `json:"expectedImei,omitempty"`
	IMEI2        string `json:"imei2,omitempty"`
	MobileModel  string `json:"mobileModel,omitempty"`

	SimDetails       *SimDetails    `json:"simDetails,omitempty"`
	SimChangeHistory []SimChange    `json:"simChangeHistory"`
	IsLocked         bool           `json:"isLocked"`
	LockHistory      []LockEvent    `json:"lockHistory"`
	OfflineLock      string         `json:"offlineLockToken,omitempty"`
	OfflineUnlock    string         `json:"offlineUnlockToken,omitempty"`
	IsEnrolled       bool           `json:"isEnrolled"`
	EnrollmentToken  string         `json:"enrollmentToken,omitempty"`
	DeviceStatus     DeviceStatus   `json:"deviceStatus"`
	Location         *Location      `json:"location,omitempty"`
	RemoteCommand    *RemoteCommand `json:"remoteCommand"`
	Finance          Finance        `json:"finance"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SimDetails struct {
	Operator     string    `json:"operator"`
	SerialNumber string    `json:"serialNumber"`
	PhoneNumber  string    `json:"phoneNumber,omitempty"`
	IMSI         string    `json:"imsi,omitempty"`
	IsAuthorized bool      `json:"isAuthorized"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type SimChange struct {
	Previous   SimDetails `json:"previous"`
	Current    SimDetails `json:"current"`
	DetectedAt time.Time  `json:"detectedAt"`
	IP         string     `json:"ip,omitempty"`
}

type LockAction string

const (
	LockActionLock   LockAction = "lock"
	LockActionUnlock LockAction = "unlock"
)

type LockEvent struct {
	ID        string     `json:"id"`
	Action    LockAction `json:"action"`
	Reason    string     `json:"reason,omitempty"`
	Actor     string     `json:"actor"`
	Timestamp time.Time  `json:"timestamp"`
}

type Location struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Accuracy    float64   `json:"accuracy,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Finance fields share the record with the device binding but carry no
// invariants of their own here.
type Finance struct {
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	DownPayment  decimal.Decimal `json:"downPayment"`
	EMIAmount    decimal.Decimal `json:"emiAmount"`
	TenureMonths int             `json:"tenureMonths"`
	PaidEMIs     int             `json:"paidEmis"`
	Schedule     []EMIInstalment `json:"emiSchedule,omitempty"`
}

type EMIInstalment struct {
	DueDate time.Time       `json:"dueDate"`
	Amount  decimal.Decimal `json:"amount"`
	Paid    bool            `json:"paid"`
	PaidAt  *time.Time      `json:"paidAt,omitempty"`
}

// BuildSchedule lays out monthly instalments starting one month after start.
func (f *Finance) BuildSchedule(start time.Time) {
	if f.TenureMonths <= 0 || f.EMIAmount.IsZero() {
		f.Schedule = nil
		return
	}
	f.Schedule = make([]EMIInstalment, f.TenureMonths)
	for i := range f.Schedule {
		f.Schedule[i] = EMIInstalment{
			DueDate: start.AddDate(0, i+1, 0),
			Amount:  f.EMIAmount,
		}
	}
}

type CreateCustomerRequest struct {
	ID           string          `json:"id" validate:"omitempty,max=64"`
	DealerID     string          `json:"dealerId"`
	Name         string          `json:"name" validate:"max=120"`
	Phone        string          `json:"phone" validate:"omitempty,min=7,max=20"`
	Address      string          `json:"address" validate:"max=300"`
	IMEI1        string          `json:"imei1" validate:"omitempty,numeric,len=15"`
	ExpectedIMEI string          `json:"expectedImei" validate:"omitempty,numeric,len=15"`
	IMEI2        string          `json:"imei2" validate:"omitempty,numeric,len=15"`
	MobileModel  string          `json:"mobileModel" validate:"max=100"`
	Finance      *FinanceRequest `json:"finance"`
}

type FinanceRequest struct {
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	DownPayment  decimal.Decimal `json:"downPayment"`
	EMIAmount    decimal.Decimal `json:"emiAmount"`
	TenureMonths int             `json:"tenureMonths" validate:"min=0,max=120"`
}

// UpdateCustomerRequest is a partial patch: nil fields are left unchanged.
type UpdateCustomerRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=120"`
	Phone        *string `json:"phone" validate:"omitempty,min=7,max=20"`
	Address      *string `json:"address" validate:"omitempty,max=300"`
	IMEI1        *string `json:"imei1" validate:"omitempty,numeric,len=15"`
	ExpectedIMEI *string `json:"expectedImei" validate:"omitempty,numeric,len=15"`
	IMEI2        *string `json:"imei2" validate:"omitempty,numeric,len=15"`
	MobileModel  *string `json:"mobileModel" validate:"omitempty,max=100"`
	PaidEMIs     *int    `json:"paidEmis" validate:"omitempty,min=0"`
}

// CustomerProfile is the patchable projection compared when auditing edits.
type CustomerProfile struct {
	Name         string `diff:"name"`
	Phone        string `diff:"phone"`
	Address      string `diff:"address"`
	IMEI1        string `diff:"imei1"`
	ExpectedIMEI string `diff:"expectedImei"`
	IMEI2        string `diff:"imei2"`
	MobileModel  string `diff:"mobileModel"`
	PaidEMIs     int    `diff:"paidEmis"`
}

func (c *Customer) Profile() CustomerProfile {
	return CustomerProfile{
		Name:         c.Name,
		Phone:        c.Phone,
		Address:      c.Address,
		IMEI1:        c.IMEI1,
		ExpectedIMEI: c.ExpectedIMEI,
		IMEI2:        c.IMEI2,
		MobileModel:  c.MobileModel,
		PaidEMIs:     c.Finance.PaidEMIs,
	}
}

// Apply copies the non-nil fields of the patch onto the customer.
func (r *UpdateCustomerRequest) Apply(c *Customer) {
	if r.Name != nil {
		c.Name = *r.Name
	}
	if r.Phone != nil {
		c.Phone = *r.Phone
	}
	if r.Address != nil {
		c.Address = *r.Address
	}
	if r.IMEI1 != nil {
		c.IMEI1 = *r.IMEI1
	}
	if r.ExpectedIMEI != nil {
		c.ExpectedIMEI = *r.ExpectedIMEI
	}
	if r.IMEI2 != nil {
		c.IMEI2 = *r.IMEI2
	}
	if r.MobileModel != nil {
		c.MobileModel = *r.MobileModel
	}
	if r.PaidEMIs != nil {
		c.Finance.PaidEMIs = *r.PaidEMIs
		for i := range c.Finance.Schedule {
			c.Finance.Schedule[i].Paid = i < *r.PaidEMIs
		}
	}
}

type OfflineTokensResponse struct {
	CustomerID    string `json:"customerId"`
	OfflineLock   string `json:"offlineLockToken"`
	OfflineUnlock string `json:"offlineUnlockToken"`
}
