package service

import (
	"context"
	"errors"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"go.uber.org/zap"
)

const agentActor = "agent"

// EnrollmentService merges the three agent signal sources (step pings, the
// enrollment callback and the verification callback) into the customer
// record and projects the result onto the device lifecycle.
type EnrollmentService struct {
	customerRepo repository.CustomerRepository
	deviceRepo   repository.DeviceRepository
	projector    *projector
	audit        *AuditService
	notifier     Notifier
	logger       *zap.Logger
}

func NewEnrollmentService(
	customerRepo repository.CustomerRepository,
	deviceRepo repository.DeviceRepository,
	audit *AuditService,
	notifier Notifier,
	logger *zap.Logger,
) *EnrollmentService {
	return &EnrollmentService{
		customerRepo: customerRepo,
		deviceRepo:   deviceRepo,
		projector:    &projector{deviceRepo: deviceRepo},
		audit:        audit,
		notifier:     notifierOrNop(notifier),
		logger:       logger,
	}
}

// resolveCustomer finds the customer an agent report is about, trying the
// explicit customer id, then the device binding, then the IMEI.
func resolveCustomer(ctx context.Context, customers repository.CustomerRepository, devices repository.DeviceRepository, customerID, deviceID, imei string) (*domain.Customer, error) {
	if customerID == "" && deviceID == "" && imei == "" {
		return nil, newError(CodeValidation, "customerId, deviceId or imei is required", nil)
	}

	if customerID != "" {
		c, err := customers.FindByID(ctx, customerID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(err, CodeCustomerNotFound, "failed to load customer")
		}
	}

	if deviceID != "" {
		d, err := devices.FindByID(ctx, deviceID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(err, CodeDeviceNotFound, "failed to load device")
		}
		if err == nil && d.CustomerID() != "" {
			c, err := customers.FindByID(ctx, d.CustomerID())
			if err == nil {
				return c, nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, classify(err, CodeCustomerNotFound, "failed to load customer")
			}
		}
	}

	if imei != "" {
		c, err := customers.FindByIMEI(ctx, imei)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, classify(err, CodeCustomerNotFound, "failed to load customer")
		}
	}

	return nil, newError(CodeCustomerNotFound, "no customer matches the report", map[string]interface{}{
		"customerId": customerID,
		"deviceId":   deviceID,
		"imei":       imei,
	})
}

func (s *EnrollmentService) resolve(ctx context.Context, customerID, deviceID, imei string) (*domain.Customer, error) {
	c, err := resolveCustomer(ctx, s.customerRepo, s.deviceRepo, customerID, deviceID, imei)
	if err != nil && CodeOf(err) == CodeCustomerNotFound {
		s.logger.Warn("agent report for unknown customer",
			zap.String("customer_id", customerID),
			zap.String("device_id", deviceID),
			zap.String("imei", imei),
		)
	}
	return c, err
}

// ReportSteps records client-reported checklist progress such as the
// optimistic QR-scan ping. Steps only ever advance.
func (s *EnrollmentService) ReportSteps(ctx context.Context, req *domain.StepReport) (*domain.DeviceStatus, error) {
	var single domain.Steps
	if req.Step != "" && !single.Mark(req.Step) {
		return nil, newError(CodeValidation, "unknown step", map[string]interface{}{"step": req.Step})
	}

	c, err := s.resolve(ctx, req.CustomerID, req.DeviceID, req.IMEI)
	if err != nil {
		return nil, err
	}

	updated, err := s.customerRepo.Update(ctx, c.ID, func(c *domain.Customer) error {
		st := &c.DeviceStatus
		st.Steps.Merge(single)
		if req.Steps != nil {
			st.Steps.Merge(*req.Steps)
		}
		st.AdvanceProgress(req.Progress)
		st.AdvanceProgress(st.Steps.Progress())
		if st.Status == domain.InstallStatusPending || st.Status == "" {
			st.Status = domain.InstallStatusInstalling
		}
		c.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "failed to record steps")
	}

	s.notifier.Publish(updated.DealerID, EventDeviceStatus, map[string]interface{}{
		"customerId":   updated.ID,
		"deviceStatus": updated.DeviceStatus,
	})
	return &updated.DeviceStatus, nil
}

func verify(expected string, actual ...string) domain.VerificationStatus {
	if expected == "" {
		return domain.VerificationPending
	}
	seen := false
	for _, a := range actual {
		if a == "" {
			continue
		}
		seen = true
		if a == expected {
			return domain.VerificationVerified
		}
	}
	if !seen {
		return domain.VerificationPending
	}
	return domain.VerificationMismatch
}

// Enroll applies the authoritative enrollment callback. Every rejection is
// logged with the identifiers the agent attempted.
func (s *EnrollmentService) Enroll(ctx context.Context, req *domain.EnrollmentRequest) (*domain.EnrollmentResponse, error) {
	resp, err := s.enroll(ctx, req)
	if err != nil {
		LogEnrollmentFailure(s.logger, req, err)
	}
	return resp, err
}

// LogEnrollmentFailure records a rejected enrollment callback.
func LogEnrollmentFailure(logger *zap.Logger, req *domain.EnrollmentRequest, err error) {
	level := zap.WarnLevel
	if CodeOf(err) == CodeStoreUnavailable {
		level = zap.ErrorLevel
	}
	logger.Log(level, "enrollment callback rejected",
		zap.String("customer_id", req.CustomerID),
		zap.String("device_id", req.DeviceID),
		zap.String("imei", req.IMEI),
		zap.String("code", string(CodeOf(err))),
		zap.Error(err),
	)
}

func (s *EnrollmentService) enroll(ctx context.Context, req *domain.EnrollmentRequest) (*domain.EnrollmentResponse, error) {
	c, err := resolveCustomer(ctx, s.customerRepo, s.deviceRepo, req.CustomerID, req.DeviceID, req.IMEI)
	if err != nil {
		return nil, err
	}

	devices, err := s.deviceRepo.ListByCustomer(ctx, c.ID)
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to load devices")
	}
	var live *domain.Device
	for _, d := range devices {
		if d.Live() && (live == nil || d.CreatedAt.After(live.CreatedAt)) {
			live = d
		}
	}
	if len(devices) > 0 && live == nil {
		return nil, &Error{
			Code:    CodeInvalidTransition,
			Message: "device was removed; issue a new enrollment token",
			Details: map[string]interface{}{"from": domain.DeviceStateRemoved, "to": domain.DeviceStateActive},
		}
	}

	now := time.Now()
	if req.EnrollmentToken != "" && (live == nil || live.State == domain.DeviceStatePending) {
		if live == nil || !live.TokenValid(req.EnrollmentToken, now) {
			return nil, newError(CodeUnauthorized, "invalid or expired enrollment token", nil)
		}
	}

	reportedAt := now
	if req.EnrolledAt != nil && !req.EnrolledAt.After(now) {
		reportedAt = *req.EnrolledAt
	}

	updated, err := s.customerRepo.Update(ctx, c.ID, func(c *domain.Customer) error {
		if req.IMEI != "" {
			c.IMEI1 = req.IMEI
		}
		if req.IMEI2 != "" {
			c.IMEI2 = req.IMEI2
		}
		if c.MobileModel == "" {
			c.MobileModel = req.Model
		}
		c.IsEnrolled = true
		c.EnrollmentToken = ""

		st := &c.DeviceStatus
		st.Technical.Merge(req.Technical(reportedAt))
		st.Status = domain.InstallStatusAdminInstalled
		st.Steps.Merge(domain.Steps{
			QRScanned:          true,
			AppInstalled:       true,
			AppLaunched:        true,
			PermissionsGranted: true,
			DetailsFetched:     true,
			DeviceBound:        true,
		})
		st.AdvanceProgress(100)
		seen := now
		st.LastSeen = &seen

		expected := c.ExpectedIMEI
		status := verify(expected, req.IMEI, req.IMEI2)
		if status == domain.VerificationVerified {
			st.Steps.IMEIVerified = true
		}
		st.Verification = &domain.Verification{
			Status:       status,
			ExpectedIMEI: expected,
			ActualIMEI:   req.IMEI,
			CheckedAt:    now,
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIMEI) {
			return nil, &Error{
				Code:    CodeDuplicateIMEI,
				Message: "reported imei is bound to another customer",
				Details: map[string]interface{}{"field": "imei", "imei": req.IMEI},
				Err:     err,
			}
		}
		return nil, classify(err, CodeCustomerNotFound, "failed to record enrollment")
	}

	device, err := s.projector.project(ctx, updated, agentActor, "enrollment callback")
	if err != nil {
		s.logger.Error("failed to project enrollment onto device",
			zap.String("customer_id", updated.ID), zap.Error(err))
		return nil, classify(err, CodeDeviceNotFound, "failed to activate device")
	}

	resp := &domain.EnrollmentResponse{
		CustomerID:   updated.ID,
		IsEnrolled:   updated.IsEnrolled,
		IsLocked:     updated.IsLocked,
		DeviceStatus: updated.DeviceStatus,
	}
	if device != nil {
		resp.DeviceID = device.ID
	}

	verification := updated.DeviceStatus.Verification
	s.audit.Record(ctx, agentActor, updated.DealerID, domain.AuditTargetCustomer, updated.ID, "device.enrolled", map[string]interface{}{
		"deviceId":     resp.DeviceID,
		"imei":         req.IMEI,
		"verification": verification.Status,
	})
	if verification.Status == domain.VerificationMismatch {
		s.logger.Warn("enrolled imei differs from expected",
			zap.String("customer_id", updated.ID),
			zap.String("expected", verification.ExpectedIMEI),
			zap.String("actual", verification.ActualIMEI),
		)
	}
	s.logger.Info("device enrolled",
		zap.String("customer_id", updated.ID),
		zap.String("device_id", resp.DeviceID),
		zap.String("model", req.Model),
	)
	s.notifier.Publish(updated.DealerID, EventEnrolled, resp)

	return resp, nil
}

// Verify records the post-enrollment identity check. A mismatch is an
// anomaly to flag, never a reason to reject the agent.
func (s *EnrollmentService) Verify(ctx context.Context, req *domain.VerificationRequest) (*domain.Verification, error) {
	c, err := s.resolve(ctx, req.CustomerID, req.DeviceID, req.ActualIMEI)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := s.customerRepo.Update(ctx, c.ID, func(c *domain.Customer) error {
		expected := c.ExpectedIMEI
		if expected == "" {
			expected = c.IMEI1
		}

		v := &domain.Verification{
			Status:       verify(expected, req.ActualIMEI, req.ActualIMEI2),
			ExpectedIMEI: expected,
			ActualIMEI:   req.ActualIMEI,
			SimSerial:    req.SimSerial,
			CheckedAt:    now,
		}
		if v.Status == domain.VerificationMismatch {
			v.Reason = "imei"
		}
		if c.SimDetails != nil && c.SimDetails.IsAuthorized && req.SimSerial != "" &&
			c.SimDetails.SerialNumber != "" && c.SimDetails.SerialNumber != req.SimSerial {
			v.Status = domain.VerificationMismatch
			v.Reason = "sim"
		}
		if v.Status == domain.VerificationVerified {
			c.DeviceStatus.Steps.IMEIVerified = true
			c.DeviceStatus.AdvanceProgress(c.DeviceStatus.Steps.Progress())
		}
		c.DeviceStatus.Verification = v
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "failed to record verification")
	}

	v := updated.DeviceStatus.Verification
	if v.Status == domain.VerificationMismatch {
		s.audit.Record(ctx, agentActor, updated.DealerID, domain.AuditTargetCustomer, updated.ID, "device.verification_mismatch", map[string]interface{}{
			"reason":       v.Reason,
			"expectedImei": v.ExpectedIMEI,
			"actualImei":   v.ActualIMEI,
			"simSerial":    v.SimSerial,
		})
	}
	s.notifier.Publish(updated.DealerID, EventVerification, map[string]interface{}{
		"customerId":   updated.ID,
		"verification": v,
	})
	return v, nil
}
