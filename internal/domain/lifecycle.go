package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid device state transition")

// TransitionError names the rejected edge.
type TransitionError struct {
	From DeviceState
	To   DeviceState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid device state transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

var transitions = map[DeviceState][]DeviceState{
	DeviceStateUnassigned: {DeviceStatePending},
	DeviceStatePending:    {DeviceStateActive},
	DeviceStateActive:     {DeviceStateLocked, DeviceStateRemoved},
	DeviceStateLocked:     {DeviceStateActive, DeviceStateRemoved},
	DeviceStateRemoved:    nil,
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to DeviceState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the device to state `to` and records the change.
// Re-entering the current state is a no-op, except for REMOVED which
// rejects every transition.
func (d *Device) Transition(to DeviceState, reason, actor string, at time.Time) (bool, error) {
	if d.State == DeviceStateRemoved {
		return false, &TransitionError{From: d.State, To: to}
	}
	if d.State == to {
		return false, nil
	}
	if !CanTransition(d.State, to) {
		return false, &TransitionError{From: d.State, To: to}
	}

	d.State = to
	d.StateHistory = append(d.StateHistory, StateChange{
		State:     to,
		ChangedAt: at,
		Reason:    reason,
		ChangedBy: actor,
	})
	d.UpdatedAt = at
	return true, nil
}

// Live reports whether the device identity can still take part in enrollment.
func (d *Device) Live() bool {
	return d.State != DeviceStateRemoved
}
