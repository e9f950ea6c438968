package service

import (
	"context"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DeviceService struct {
	deviceRepo   repository.DeviceRepository
	customerRepo repository.CustomerRepository
	guard        *QuotaGuard
	audit        *AuditService
	logger       *zap.Logger
	tokenTTL     time.Duration
}

func NewDeviceService(
	deviceRepo repository.DeviceRepository,
	customerRepo repository.CustomerRepository,
	guard *QuotaGuard,
	audit *AuditService,
	logger *zap.Logger,
	tokenTTL time.Duration,
) *DeviceService {
	return &DeviceService{
		deviceRepo:   deviceRepo,
		customerRepo: customerRepo,
		guard:        guard,
		audit:        audit,
		logger:       logger,
		tokenTTL:     tokenTTL,
	}
}

// newPendingDevice allocates a fresh device identity bound to customer and
// moves it UNASSIGNED -> PENDING with token as its enrollment token.
func newPendingDevice(customer *domain.Customer, actorID, token string, now time.Time, ttl time.Duration) (*domain.Device, error) {
	customerID := customer.ID
	device := &domain.Device{
		ID:                 uuid.New().String(),
		Platform:           domain.PlatformAndroid,
		DealerID:           customer.DealerID,
		State:              domain.DeviceStateUnassigned,
		AssignedCustomerID: &customerID,
		IMEI1:              customer.IMEI1,
		IMEI2:              customer.IMEI2,
		Model:              customer.MobileModel,
		StateHistory: []domain.StateChange{{
			State:     domain.DeviceStateUnassigned,
			ChangedAt: now,
			Reason:    "allocated",
			ChangedBy: actorID,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	setToken(device, token, now, ttl)

	if _, err := device.Transition(domain.DeviceStatePending, "enrollment token issued", actorID, now); err != nil {
		return nil, err
	}
	return device, nil
}

func setToken(d *domain.Device, token string, now time.Time, ttl time.Duration) {
	d.EnrollmentToken = token
	d.EnrollmentTokenExpiresAt = nil
	if ttl > 0 {
		expires := now.Add(ttl)
		d.EnrollmentTokenExpiresAt = &expires
	}
}

// Create registers an UNASSIGNED unit in the dealer's inventory.
func (s *DeviceService) Create(ctx context.Context, actor *domain.AdminUser, req *domain.CreateDeviceRequest) (*domain.Device, error) {
	dealerID := actor.ID
	if actor.IsSuperAdmin() && req.DealerID != "" {
		dealerID = req.DealerID
	}

	if err := s.guard.admit(ctx, actor); err != nil {
		return nil, err
	}

	platform := req.Platform
	if platform == "" {
		platform = domain.PlatformAndroid
	}

	now := time.Now()
	device := &domain.Device{
		ID:       uuid.New().String(),
		Platform: platform,
		DealerID: dealerID,
		State:    domain.DeviceStateUnassigned,
		IMEI1:    req.IMEI1,
		IMEI2:    req.IMEI2,
		Model:    req.Model,
		StateHistory: []domain.StateChange{{
			State:     domain.DeviceStateUnassigned,
			ChangedAt: now,
			Reason:    "registered",
			ChangedBy: actor.ID,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.deviceRepo.Create(ctx, device); err != nil {
		return nil, classify(err, CodeDeviceNotFound, "failed to create device")
	}

	s.audit.Record(ctx, actor.ID, dealerID, domain.AuditTargetDevice, device.ID, "device.create", nil)
	return device, nil
}

func (s *DeviceService) owned(ctx context.Context, actor *domain.AdminUser, deviceID string) (*domain.Device, error) {
	device, err := s.deviceRepo.FindByID(ctx, deviceID)
	if err != nil {
		return nil, classify(err, CodeDeviceNotFound, "device not found")
	}
	if !actor.CanAccess(device.DealerID) {
		return nil, newError(CodeForbidden, "device belongs to another dealer", nil)
	}
	return device, nil
}

func (s *DeviceService) Get(ctx context.Context, actor *domain.AdminUser, deviceID string) (*domain.Device, error) {
	return s.owned(ctx, actor, deviceID)
}

func (s *DeviceService) List(ctx context.Context, actor *domain.AdminUser) ([]*domain.Device, error) {
	dealerID := actor.ID
	if actor.IsSuperAdmin() {
		dealerID = ""
	}

	devices, err := s.deviceRepo.List(ctx, dealerID)
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to list devices")
	}
	return devices, nil
}

func (s *DeviceService) History(ctx context.Context, actor *domain.AdminUser, deviceID string) ([]domain.StateChange, error) {
	device, err := s.owned(ctx, actor, deviceID)
	if err != nil {
		return nil, err
	}
	return device.StateHistory, nil
}

// IssueEnrollmentToken moves an UNASSIGNED device to PENDING, or refreshes
// the token of a device that is already PENDING. Any previous token stops
// working.
func (s *DeviceService) IssueEnrollmentToken(ctx context.Context, actor *domain.AdminUser, deviceID string, req *domain.IssueTokenRequest) (*domain.IssueTokenResponse, error) {
	device, err := s.owned(ctx, actor, deviceID)
	if err != nil {
		return nil, err
	}

	customerID := req.CustomerID
	if customerID == "" {
		customerID = device.CustomerID()
	}
	if customerID != "" {
		customer, err := s.customerRepo.FindByID(ctx, customerID)
		if err != nil {
			return nil, classify(err, CodeCustomerNotFound, "customer not found")
		}
		if customer.DealerID != device.DealerID {
			return nil, newError(CodeForbidden, "customer and device belong to different dealers", nil)
		}
	}

	token, err := newEnrollmentToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updated, err := s.deviceRepo.Update(ctx, deviceID, func(d *domain.Device) error {
		if _, err := d.Transition(domain.DeviceStatePending, "enrollment token issued", actor.ID, now); err != nil {
			return err
		}
		if customerID != "" {
			id := customerID
			d.AssignedCustomerID = &id
		}
		setToken(d, token, now, s.tokenTTL)
		d.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeDeviceNotFound, "failed to issue enrollment token")
	}

	if customerID != "" {
		_, err := s.customerRepo.Update(ctx, customerID, func(c *domain.Customer) error {
			c.EnrollmentToken = token
			c.UpdatedAt = now
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to copy enrollment token to customer",
				zap.String("customer_id", customerID), zap.Error(err))
		}
	}

	s.audit.Record(ctx, actor.ID, updated.DealerID, domain.AuditTargetDevice, deviceID, "device.enrollment_token", map[string]interface{}{
		"customerId": customerID,
	})

	resp := &domain.IssueTokenResponse{
		DeviceID: updated.ID,
		State:    updated.State,
		Token:    updated.EnrollmentToken,
	}
	if updated.EnrollmentTokenExpiresAt != nil {
		resp.ExpiresAt = *updated.EnrollmentTokenExpiresAt
	}
	return resp, nil
}

// Remove retires the device identity for good.
func (s *DeviceService) Remove(ctx context.Context, actor *domain.AdminUser, deviceID string, req *domain.RemoveDeviceRequest) (*domain.Device, error) {
	if _, err := s.owned(ctx, actor, deviceID); err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = "removed by admin"
	}

	updated, err := s.deviceRepo.Update(ctx, deviceID, func(d *domain.Device) error {
		if _, err := d.Transition(domain.DeviceStateRemoved, reason, actor.ID, time.Now()); err != nil {
			return err
		}
		d.EnrollmentToken = ""
		d.EnrollmentTokenExpiresAt = nil
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeDeviceNotFound, "failed to remove device")
	}

	s.audit.Record(ctx, actor.ID, updated.DealerID, domain.AuditTargetDevice, deviceID, "device.remove", map[string]interface{}{
		"reason": reason,
	})
	return updated, nil
}
