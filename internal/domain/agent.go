package domain

import (
	"encoding/json"
	"time"
)

// EnrollmentRequest is posted by the agent once it holds Device Owner.
type EnrollmentRequest struct {
	CustomerID      string     `json:"customerId" validate:"max=64"`
	DeviceID        string     `json:"deviceId" validate:"max=64"`
	EnrollmentToken string     `json:"enrollmentToken"`
	Brand           string     `json:"brand" validate:"max=100"`
	Model           string     `json:"model" validate:"max=100"`
	Manufacturer    string     `json:"manufacturer" validate:"max=100"`
	AndroidVersion  string     `json:"androidVersion" validate:"max=32"`
	SDKInt          int        `json:"sdkInt" validate:"min=0"`
	AndroidID       string     `json:"androidId" validate:"max=64"`
	Serial          string     `json:"serial" validate:"max=64"`
	IMEI            string     `json:"imei" validate:"omitempty,numeric,min=14,max=16"`
	IMEI2           string     `json:"imei2" validate:"omitempty,numeric,min=14,max=16"`
	MEID            string     `json:"meid" validate:"max=32"`
	EnrolledAt      *time.Time `json:"enrolledAt"`
	Status          string     `json:"status"`
}

func (r *EnrollmentRequest) Technical(at time.Time) Technical {
	return Technical{
		Brand:        r.Brand,
		Model:        r.Model,
		Manufacturer: r.Manufacturer,
		OSVersion:    r.AndroidVersion,
		SDKInt:       r.SDKInt,
		AndroidID:    r.AndroidID,
		Serial:       r.Serial,
		ReportedAt:   at,
	}
}

type EnrollmentResponse struct {
	CustomerID   string       `json:"customerId"`
	DeviceID     string       `json:"deviceId,omitempty"`
	IsEnrolled   bool         `json:"isEnrolled"`
	IsLocked     bool         `json:"isLocked"`
	DeviceStatus DeviceStatus `json:"deviceStatus"`
}

// VerificationRequest carries the identity the agent actually observes.
type VerificationRequest struct {
	CustomerID  string `json:"customerId" validate:"max=64"`
	DeviceID    string `json:"deviceId" validate:"max=64"`
	ActualIMEI  string `json:"actualImei" validate:"omitempty,numeric,min=14,max=16"`
	ActualIMEI2 string `json:"actualImei2" validate:"omitempty,numeric,min=14,max=16"`
	SimSerial   string `json:"simSerial" validate:"max=32"`
	SimOperator string `json:"simOperator" validate:"max=64"`
}

type StepReport struct {
	CustomerID string `json:"customerId" validate:"max=64"`
	DeviceID   string `json:"deviceId" validate:"max=64"`
	IMEI       string `json:"imei" validate:"omitempty,numeric,min=14,max=16"`
	Step       Step   `json:"step"`
	Steps      *Steps `json:"steps"`
	Progress   int    `json:"installProgress" validate:"min=0,max=100"`
}

// HeartbeatRequest keeps optional sections raw so a malformed section can
// be dropped without failing the liveness update.
type HeartbeatRequest struct {
	CustomerID string          `json:"customerId"`
	DeviceID   string          `json:"deviceId"`
	Status     json.RawMessage `json:"status,omitempty"`
	Location   json.RawMessage `json:"location,omitempty"`
	Features   json.RawMessage `json:"features,omitempty"`
	Sim        json.RawMessage `json:"sim,omitempty"`
	Step       json.RawMessage `json:"step,omitempty"`

	// ClientIP is filled in by the transport, never decoded from the body.
	ClientIP string `json:"-"`
}

type LocationReport struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy float64  `json:"accuracy"`
}

func (l LocationReport) Valid() bool {
	return l.Lat != nil && l.Lng != nil &&
		*l.Lat >= -90 && *l.Lat <= 90 &&
		*l.Lng >= -180 && *l.Lng <= 180 &&
		!(*l.Lat == 0 && *l.Lng == 0)
}

type SimReport struct {
	Operator     string `json:"operator"`
	SerialNumber string `json:"serialNumber"`
	PhoneNumber  string `json:"phoneNumber"`
	IMSI         string `json:"imsi"`
}

type HeartbeatResponse struct {
	IsLocked bool           `json:"isLocked"`
	Command  *RemoteCommand `json:"command,omitempty"`
}
