package service

import (
	"context"
	"testing"
	"time"

	"emilock-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func driftsByKind(report *domain.ReconcileReport) map[domain.DriftKind]domain.Drift {
	out := make(map[domain.DriftKind]domain.Drift, len(report.Drifts))
	for _, d := range report.Drifts {
		out[d.Kind] = d
	}
	return out
}

func TestReconcileService_Clean(t *testing.T) {
	f := newFleet(t)
	f.newCustomer(t, f.dealer, "356938035643809")
	f.enroll(t, f.newCustomer(t, f.dealer, "356938035643810"))

	report, err := f.reconciler.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Customers)
	assert.Equal(t, 2, report.Devices)
	assert.Empty(t, report.Drifts)
}

func TestReconcileService_DetectsAndRepairs(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()

	stale := f.newCustomer(t, f.dealer, "356938035643809")
	f.enroll(t, stale)
	// The customer is locked but the projection never ran.
	_, err := f.store.Customers().Update(ctx, stale.ID, func(c *domain.Customer) error {
		c.IsLocked = true
		return nil
	})
	require.NoError(t, err)

	orphanOwner := "gone-customer"
	now := time.Now()
	require.NoError(t, f.store.Devices().Create(ctx, &domain.Device{
		ID:                 "orphan-1",
		DealerID:           f.dealer.ID,
		State:              domain.DeviceStateActive,
		AssignedCustomerID: &orphanOwner,
		CreatedAt:          now,
		UpdatedAt:          now,
	}))

	dry, err := f.reconciler.Run(ctx, false)
	require.NoError(t, err)
	drifts := driftsByKind(dry)
	require.Len(t, drifts, 2)
	assert.Equal(t, string(domain.DeviceStateLocked), drifts[domain.DriftState].Expected)
	assert.Equal(t, string(domain.DeviceStateActive), drifts[domain.DriftState].Actual)
	assert.False(t, drifts[domain.DriftState].Fixed)
	assert.Equal(t, "orphan-1", drifts[domain.DriftOrphanDevice].DeviceID)

	// A dry run changes nothing.
	assert.Equal(t, domain.DeviceStateActive, f.liveDevice(t, stale.ID).State)

	applied, err := f.reconciler.Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, applied.Applied)
	for _, d := range applied.Drifts {
		assert.True(t, d.Fixed, "%s should be fixed", d.Kind)
	}
	assert.Equal(t, domain.DeviceStateLocked, f.liveDevice(t, stale.ID).State)

	orphan, err := f.store.Devices().FindByID(ctx, "orphan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceStateRemoved, orphan.State)

	after, err := f.reconciler.Run(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, after.Drifts)
}

func TestReconcileService_MissingDevice(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")
	f.enroll(t, c)
	require.NoError(t, f.store.Devices().Delete(ctx, f.liveDevice(t, c.ID).ID))

	report, err := f.reconciler.Run(ctx, true)
	require.NoError(t, err)
	drift := driftsByKind(report)[domain.DriftMissingDevice]
	assert.Equal(t, "none", drift.Actual)
	assert.True(t, drift.Fixed)
	assert.NotEmpty(t, drift.DeviceID)
	assert.Equal(t, domain.DeviceStateActive, f.liveDevice(t, c.ID).State)
}
