package service

import (
	"context"
	"testing"

	"emilock-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentService_ReportSteps(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")

	status, err := f.enrollment.ReportSteps(ctx, &domain.StepReport{CustomerID: c.ID, Step: domain.StepQRScanned})
	require.NoError(t, err)
	assert.True(t, status.Steps.QRScanned)
	assert.Equal(t, domain.InstallStatusInstalling, status.Status)
	first := status.InstallProgress
	assert.Greater(t, first, 0)

	// A report carrying fewer steps never rolls anything back.
	status, err = f.enrollment.ReportSteps(ctx, &domain.StepReport{
		CustomerID: c.ID,
		Steps:      &domain.Steps{AppInstalled: true},
	})
	require.NoError(t, err)
	assert.True(t, status.Steps.QRScanned)
	assert.True(t, status.Steps.AppInstalled)
	assert.GreaterOrEqual(t, status.InstallProgress, first)

	_, err = f.enrollment.ReportSteps(ctx, &domain.StepReport{CustomerID: c.ID, Step: domain.Step("rebooted")})
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = f.enrollment.ReportSteps(ctx, &domain.StepReport{IMEI: "999999999999999", Step: domain.StepQRScanned})
	assert.Equal(t, CodeCustomerNotFound, CodeOf(err))

	_, err = f.enrollment.ReportSteps(ctx, &domain.StepReport{Step: domain.StepQRScanned})
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestEnrollmentService_Enroll(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")

	resp := f.enroll(t, c)
	assert.Equal(t, c.ID, resp.CustomerID)
	assert.NotEmpty(t, resp.DeviceID)
	assert.True(t, resp.IsEnrolled)
	assert.False(t, resp.IsLocked)
	assert.Equal(t, domain.InstallStatusAdminInstalled, resp.DeviceStatus.Status)
	assert.Equal(t, 100, resp.DeviceStatus.InstallProgress)
	require.NotNil(t, resp.DeviceStatus.Verification)
	assert.Equal(t, domain.VerificationVerified, resp.DeviceStatus.Verification.Status)
	assert.Equal(t, "Samsung", resp.DeviceStatus.Technical.Brand)

	device := f.liveDevice(t, c.ID)
	assert.Equal(t, resp.DeviceID, device.ID)
	assert.Equal(t, domain.DeviceStateActive, device.State)
	assert.Empty(t, device.EnrollmentToken)
	assert.Equal(t, "Samsung", device.Brand)

	stored := f.customer(t, c.ID)
	assert.Empty(t, stored.EnrollmentToken)
	assert.Equal(t, 1, f.notifier.count(EventEnrolled))

	// The agent retrying the callback is harmless.
	again, err := f.enrollment.Enroll(ctx, &domain.EnrollmentRequest{CustomerID: c.ID, IMEI: c.IMEI1})
	require.NoError(t, err)
	assert.Equal(t, resp.DeviceID, again.DeviceID)
	assert.Equal(t, domain.DeviceStateActive, f.liveDevice(t, c.ID).State)
}

func TestEnrollmentService_EnrollResolvesByIMEI(t *testing.T) {
	f := newFleet(t)
	c := f.newCustomer(t, f.dealer, "356938035643809")

	resp, err := f.enrollment.Enroll(context.Background(), &domain.EnrollmentRequest{IMEI: c.IMEI1, Model: "SM-A155F"})
	require.NoError(t, err)
	assert.Equal(t, c.ID, resp.CustomerID)
}

func TestEnrollmentService_EnrollRejects(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()

	t.Run("wrong token", func(t *testing.T) {
		c := f.newCustomer(t, f.dealer, "356938035643801")
		_, err := f.enrollment.Enroll(ctx, &domain.EnrollmentRequest{CustomerID: c.ID, EnrollmentToken: "deadbeef"})
		assert.Equal(t, CodeUnauthorized, CodeOf(err))
		assert.False(t, f.customer(t, c.ID).IsEnrolled)
		assert.Equal(t, domain.DeviceStatePending, f.liveDevice(t, c.ID).State)
	})

	t.Run("unknown customer", func(t *testing.T) {
		_, err := f.enrollment.Enroll(ctx, &domain.EnrollmentRequest{CustomerID: "nobody"})
		var svcErr *Error
		require.ErrorAs(t, err, &svcErr)
		assert.Equal(t, CodeCustomerNotFound, svcErr.Code)
		assert.Equal(t, "nobody", svcErr.Details["customerId"])
	})

	t.Run("removed device stays removed", func(t *testing.T) {
		c := f.newCustomer(t, f.dealer, "356938035643802")
		f.enroll(t, c)
		device := f.liveDevice(t, c.ID)
		_, err := f.devices.Remove(ctx, f.dealer, device.ID, &domain.RemoveDeviceRequest{})
		require.NoError(t, err)

		_, err = f.enrollment.Enroll(ctx, &domain.EnrollmentRequest{CustomerID: c.ID, IMEI: c.IMEI1})
		assert.Equal(t, CodeInvalidTransition, CodeOf(err))

		after, err := f.store.Devices().FindByID(ctx, device.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.DeviceStateRemoved, after.State)
	})
}

func TestEnrollmentService_EnrollMismatchIsFlagged(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")

	resp, err := f.enrollment.Enroll(ctx, &domain.EnrollmentRequest{
		CustomerID:      c.ID,
		EnrollmentToken: c.EnrollmentToken,
		IMEI:            "356938035643899",
	})
	require.NoError(t, err)
	assert.True(t, resp.IsEnrolled)
	assert.Equal(t, domain.VerificationMismatch, resp.DeviceStatus.Verification.Status)
	assert.Equal(t, "356938035643809", resp.DeviceStatus.Verification.ExpectedIMEI)
	assert.False(t, resp.DeviceStatus.Steps.IMEIVerified)
}

func TestEnrollmentService_Verify(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")
	f.enroll(t, c)

	tests := []struct {
		name   string
		req    *domain.VerificationRequest
		status domain.VerificationStatus
		reason string
	}{
		{
			name:   "matching imei",
			req:    &domain.VerificationRequest{CustomerID: c.ID, ActualIMEI: c.IMEI1},
			status: domain.VerificationVerified,
		},
		{
			name:   "second slot matches",
			req:    &domain.VerificationRequest{CustomerID: c.ID, ActualIMEI: "356938035643811", ActualIMEI2: c.IMEI1},
			status: domain.VerificationVerified,
		},
		{
			name:   "different imei",
			req:    &domain.VerificationRequest{CustomerID: c.ID, ActualIMEI: "356938035643811"},
			status: domain.VerificationMismatch,
			reason: "imei",
		},
		{
			name:   "nothing observed",
			req:    &domain.VerificationRequest{CustomerID: c.ID},
			status: domain.VerificationPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := f.enrollment.Verify(ctx, tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.reason, v.Reason)
		})
	}

	logs, err := f.audit.List(ctx, f.super, domain.AuditFilter{TargetID: c.ID})
	require.NoError(t, err)
	mismatches := 0
	for _, l := range logs {
		if l.Action == "device.verification_mismatch" {
			mismatches++
		}
	}
	assert.Equal(t, 1, mismatches)
}

func TestEnrollmentService_VerifySimMismatch(t *testing.T) {
	f := newFleet(t)
	ctx := context.Background()
	c := f.newCustomer(t, f.dealer, "356938035643809")
	f.enroll(t, c)

	_, err := f.heartbeats.Ingest(ctx, &domain.HeartbeatRequest{
		CustomerID: c.ID,
		Sim:        []byte(`{"serialNumber":"8991000000000000001","operator":"Jio"}`),
	})
	require.NoError(t, err)

	v, err := f.enrollment.Verify(ctx, &domain.VerificationRequest{
		CustomerID: c.ID,
		ActualIMEI: c.IMEI1,
		SimSerial:  "8991000000000000002",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationMismatch, v.Status)
	assert.Equal(t, "sim", v.Reason)
}
