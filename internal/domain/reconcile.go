package domain

import "time"

type DriftKind string

const (
	DriftMissingDevice DriftKind = "missing_device"
	DriftState         DriftKind = "state_mismatch"
	DriftIdentity      DriftKind = "identity_mismatch"
	DriftOrphanDevice  DriftKind = "orphan_device"
)

// Drift is one disagreement between a customer and its device projection.
type Drift struct {
	Kind       DriftKind `json:"kind"`
	CustomerID string    `json:"customerId,omitempty"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Expected   string    `json:"expected,omitempty"`
	Actual     string    `json:"actual,omitempty"`
	Fixed      bool      `json:"fixed"`
	Error      string    `json:"error,omitempty"`
}

type ReconcileReport struct {
	Customers   int       `json:"customers"`
	Devices     int       `json:"devices"`
	Drifts      []Drift   `json:"drifts"`
	Applied     bool      `json:"applied"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// ExpectedState is the device state implied by the customer record.
func (c *Customer) ExpectedState() DeviceState {
	switch {
	case !c.IsEnrolled:
		return DeviceStatePending
	case c.IsLocked:
		return DeviceStateLocked
	default:
		return DeviceStateActive
	}
}
