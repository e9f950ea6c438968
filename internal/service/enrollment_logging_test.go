package service

import (
	"context"
	"testing"

	"emilock-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnrollmentService_EnrollLogsEveryRejection(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()

	core, logs := observer.New(zap.WarnLevel)
	enrollment := NewEnrollmentService(f.store.Customers(), f.store.Devices(), f.audit, f.notifier, zap.New(core))

	removed := f.newCustomer(t, f.dealer, "356938035643811")
	f.enroll(t, removed)
	_, err := f.devices.Remove(ctx, f.dealer, f.liveDevice(t, removed.ID).ID, &domain.RemoveDeviceRequest{})
	require.NoError(t, err)

	pending := f.newCustomer(t, f.dealer, "356938035643812")
	taken := f.newCustomer(t, f.dealer, "356938035643813")

	tests := []struct {
		name string
		req  *domain.EnrollmentRequest
		code Code
	}{
		{name: "wrong token", req: &domain.EnrollmentRequest{CustomerID: pending.ID, EnrollmentToken: "deadbeef"}, code: CodeUnauthorized},
		{name: "removed device", req: &domain.EnrollmentRequest{CustomerID: removed.ID, IMEI: removed.IMEI1}, code: CodeInvalidTransition},
		{name: "imei bound elsewhere", req: &domain.EnrollmentRequest{CustomerID: pending.ID, IMEI: taken.IMEI1}, code: CodeDuplicateIMEI},
		{name: "unknown customer", req: &domain.EnrollmentRequest{CustomerID: "ghost", IMEI: "356938035643899"}, code: CodeCustomerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := logs.Len()
			_, err := enrollment.Enroll(ctx, tt.req)
			require.Equal(t, tt.code, CodeOf(err))

			entries := logs.All()[before:]
			require.Len(t, entries, 1)
			fields := entries[0].ContextMap()
			assert.Equal(t, tt.req.CustomerID, fields["customer_id"])
			assert.Equal(t, tt.req.IMEI, fields["imei"])
			assert.Equal(t, string(tt.code), fields["code"])
		})
	}
}
