package service

import (
	"context"
	"sync"
	"testing"

	"emilock-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatService_DeliversCommandOnce(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")
	f.enroll(t, c)

	_, err := f.commands.Issue(ctx, f.dealer, c.ID, &domain.CommandRequest{Command: domain.CommandLock, Reason: "missed EMI"})
	require.NoError(t, err)

	const pollers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered []*domain.RemoteCommand
		errs      []error
	)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{CustomerID: c.ID, Status: []byte(`"online"`)})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			assert.True(t, resp.IsLocked)
			if resp.Command != nil {
				delivered = append(delivered, resp.Command)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, delivered, 1)
	assert.Equal(t, domain.CommandLock, delivered[0].Command)

	stored := f.customer(t, c.ID)
	assert.Nil(t, stored.RemoteCommand)
	require.NotNil(t, stored.DeviceStatus.LastDelivered)
	assert.Equal(t, domain.CommandLock, stored.DeviceStatus.LastDelivered.Command)
	assert.Equal(t, 1, f.notifier.count(EventCommandDelivered))

	resp, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{CustomerID: c.ID})
	require.NoError(t, err)
	assert.Nil(t, resp.Command)
	assert.True(t, resp.IsLocked)
}

func TestHeartbeatService_Sections(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")

	resp, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{
		CustomerID: c.ID,
		Status:     []byte(`"connected"`),
		Location:   []byte(`{"lat":19.07,"lng":72.87,"accuracy":12.5}`),
		Features:   []byte(`{"camera":false,"usb":true}`),
		Step:       []byte(`"appLaunched"`),
	})
	require.NoError(t, err)
	assert.False(t, resp.IsLocked)

	stored := f.customer(t, c.ID)
	require.NotNil(t, stored.Location)
	assert.InDelta(t, 19.07, stored.Location.Lat, 1e-9)
	assert.Equal(t, map[string]bool{"camera": false, "usb": true}, stored.DeviceStatus.Features)
	assert.True(t, stored.DeviceStatus.Steps.AppLaunched)
	assert.Equal(t, domain.InstallStatusConnected, stored.DeviceStatus.Status)
	assert.NotNil(t, stored.DeviceStatus.LastSeen)
}

func TestHeartbeatService_MalformedSectionsAreIgnored(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")

	_, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{
		CustomerID: c.ID,
		Location:   []byte(`{"lat":19.07,"lng":72.87}`),
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *domain.HeartbeatRequest
	}{
		{name: "location is a string", req: &domain.HeartbeatRequest{Location: []byte(`"nowhere"`)}},
		{name: "location out of range", req: &domain.HeartbeatRequest{Location: []byte(`{"lat":123,"lng":72}`)}},
		{name: "null island", req: &domain.HeartbeatRequest{Location: []byte(`{"lat":0,"lng":0}`)}},
		{name: "features is a list", req: &domain.HeartbeatRequest{Features: []byte(`["camera"]`)}},
		{name: "sim is a number", req: &domain.HeartbeatRequest{Sim: []byte(`42`)}},
		{name: "unknown step", req: &domain.HeartbeatRequest{Step: []byte(`"rebooted"`)}},
		{name: "unknown status", req: &domain.HeartbeatRequest{Status: []byte(`"sleeping"`)}},
		{name: "status is a number", req: &domain.HeartbeatRequest{Status: []byte(`1`)}},
		{name: "status is an object", req: &domain.HeartbeatRequest{Status: []byte(`{"state":"online"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.CustomerID = c.ID
			_, err := f.heartbeats.Ingest(ctx, tt.req)
			require.NoError(t, err)

			stored := f.customer(t, c.ID)
			require.NotNil(t, stored.Location)
			assert.InDelta(t, 19.07, stored.Location.Lat, 1e-9)
			assert.Nil(t, stored.SimDetails)
			assert.Equal(t, domain.InstallStatusOnline, stored.DeviceStatus.Status)
		})
	}
}

func TestHeartbeatService_SimChange(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")

	beat := func(sim string) {
		t.Helper()
		_, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{
			CustomerID: c.ID,
			Sim:        []byte(sim),
			ClientIP:   "203.0.113.7",
		})
		require.NoError(t, err)
	}

	beat(`{"serialNumber":"8991000000000000001","operator":"Jio"}`)
	stored := f.customer(t, c.ID)
	require.NotNil(t, stored.SimDetails)
	assert.True(t, stored.SimDetails.IsAuthorized)
	assert.Empty(t, stored.SimChangeHistory)

	// Same card reported again only refreshes details.
	beat(`{"serialNumber":"8991000000000000001","operator":"Jio 4G"}`)
	stored = f.customer(t, c.ID)
	assert.Equal(t, "Jio 4G", stored.SimDetails.Operator)
	assert.Empty(t, stored.SimChangeHistory)

	beat(`{"serialNumber":"8991000000000000002","operator":"Airtel"}`)
	beat(`{"serialNumber":"8991000000000000002","operator":"Airtel"}`)
	stored = f.customer(t, c.ID)
	require.Len(t, stored.SimChangeHistory, 1)
	change := stored.SimChangeHistory[0]
	assert.Equal(t, "8991000000000000001", change.Previous.SerialNumber)
	assert.Equal(t, "8991000000000000002", change.Current.SerialNumber)
	assert.Equal(t, "203.0.113.7", change.IP)
	assert.Equal(t, "8991000000000000002", stored.SimDetails.SerialNumber)
	assert.Equal(t, 1, f.notifier.count(EventSimChanged))
}

func TestHeartbeatService_Resolve(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")
	device := f.liveDevice(t, c.ID)

	_, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{DeviceID: device.ID})
	assert.NoError(t, err)

	tests := []struct {
		name string
		req  *domain.HeartbeatRequest
		code Code
	}{
		{name: "no identity", req: &domain.HeartbeatRequest{}, code: CodeValidation},
		{name: "unknown customer", req: &domain.HeartbeatRequest{CustomerID: "nobody"}, code: CodeCustomerNotFound},
		{name: "unknown device", req: &domain.HeartbeatRequest{DeviceID: "nothing"}, code: CodeDeviceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.heartbeats.Ingest(ctx, tt.req)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}
