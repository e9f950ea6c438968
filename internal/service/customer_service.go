package service

import (
	"context"
	"errors"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CustomerService struct {
	customerRepo repository.CustomerRepository
	deviceRepo   repository.DeviceRepository
	guard        *QuotaGuard
	audit        *AuditService
	logger       *zap.Logger
	tokenTTL     time.Duration
	offlineAfter time.Duration
}

func NewCustomerService(
	customerRepo repository.CustomerRepository,
	deviceRepo repository.DeviceRepository,
	guard *QuotaGuard,
	audit *AuditService,
	logger *zap.Logger,
	tokenTTL, offlineAfter time.Duration,
) *CustomerService {
	return &CustomerService{
		customerRepo: customerRepo,
		deviceRepo:   deviceRepo,
		guard:        guard,
		audit:        audit,
		logger:       logger,
		tokenTTL:     tokenTTL,
		offlineAfter: offlineAfter,
	}
}

// Create stores a customer together with the PENDING device its QR code
// will enroll. The companion device is what the dealer's quota counts.
func (s *CustomerService) Create(ctx context.Context, actor *domain.AdminUser, req *domain.CreateCustomerRequest) (*domain.Customer, error) {
	dealerID := actor.ID
	if actor.IsSuperAdmin() && req.DealerID != "" {
		dealerID = req.DealerID
	}
	if !actor.IsSuperAdmin() && req.DealerID != "" && req.DealerID != actor.ID {
		return nil, newError(CodeForbidden, "cannot create customers for another dealer", nil)
	}

	if err := s.guard.admit(ctx, actor); err != nil {
		return nil, err
	}

	lockCode, unlockCode, err := newOfflinePair()
	if err != nil {
		return nil, err
	}
	token, err := newEnrollmentToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	customer := &domain.Customer{
		ID:               id,
		DealerID:         dealerID,
		Name:             req.Name,
		Phone:            req.Phone,
		Address:          req.Address,
		IMEI1:            req.IMEI1,
		ExpectedIMEI:     req.ExpectedIMEI,
		IMEI2:            req.IMEI2,
		MobileModel:      req.MobileModel,
		SimChangeHistory: []domain.SimChange{},
		LockHistory:      []domain.LockEvent{},
		OfflineLock:      lockCode,
		OfflineUnlock:    unlockCode,
		EnrollmentToken:  token,
		DeviceStatus: domain.DeviceStatus{
			Status: domain.InstallStatusPending,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if customer.ExpectedIMEI == "" {
		customer.ExpectedIMEI = req.IMEI1
	}
	if req.Finance != nil {
		customer.Finance = domain.Finance{
			TotalAmount:  req.Finance.TotalAmount,
			DownPayment:  req.Finance.DownPayment,
			EMIAmount:    req.Finance.EMIAmount,
			TenureMonths: req.Finance.TenureMonths,
		}
		customer.Finance.BuildSchedule(now)
	}

	if err := s.customerRepo.Create(ctx, customer); err != nil {
		if errors.Is(err, repository.ErrDuplicateIMEI) {
			return nil, &Error{
				Code:    CodeDuplicateIMEI,
				Message: "imei1 is already bound to another customer",
				Details: map[string]interface{}{"field": "imei1", "imei1": req.IMEI1},
				Err:     err,
			}
		}
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, &Error{
				Code:    CodeConflict,
				Message: "customer id already exists",
				Details: map[string]interface{}{"field": "id", "id": id},
				Err:     err,
			}
		}
		return nil, classify(err, CodeCustomerNotFound, "failed to create customer")
	}

	device, err := newPendingDevice(customer, actor.ID, token, now, s.tokenTTL)
	if err == nil {
		err = s.deviceRepo.Create(ctx, device)
	}
	if err != nil {
		if delErr := s.customerRepo.Delete(ctx, customer.ID); delErr != nil {
			s.logger.Error("failed to roll back customer after device create failure",
				zap.String("customer_id", customer.ID), zap.Error(delErr))
		}
		return nil, classify(err, CodeDeviceNotFound, "failed to create companion device")
	}

	s.audit.Record(ctx, actor.ID, dealerID, domain.AuditTargetCustomer, customer.ID, "customer.create", map[string]interface{}{
		"deviceId": device.ID,
		"imei1":    customer.IMEI1,
	})
	s.logger.Info("customer created",
		zap.String("customer_id", customer.ID),
		zap.String("dealer_id", dealerID),
		zap.String("device_id", device.ID),
	)

	return s.present(customer), nil
}

// owned loads a customer the actor is allowed to manage.
func (s *CustomerService) owned(ctx context.Context, actor *domain.AdminUser, id string) (*domain.Customer, error) {
	customer, err := s.customerRepo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "customer not found")
	}
	if !actor.CanAccess(customer.DealerID) {
		return nil, newError(CodeForbidden, "customer belongs to another dealer", nil)
	}
	return customer, nil
}

// present fills read-time derived fields.
func (s *CustomerService) present(c *domain.Customer) *domain.Customer {
	c.DeviceStatus.Status = c.DeviceStatus.EffectiveStatus(time.Now(), s.offlineAfter)
	return c
}

func (s *CustomerService) Get(ctx context.Context, actor *domain.AdminUser, id string) (*domain.Customer, error) {
	customer, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.present(customer), nil
}

func (s *CustomerService) List(ctx context.Context, actor *domain.AdminUser) ([]*domain.Customer, error) {
	dealerID := actor.ID
	if actor.IsSuperAdmin() {
		dealerID = ""
	}

	customers, err := s.customerRepo.List(ctx, dealerID)
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to list customers")
	}
	for _, c := range customers {
		s.present(c)
	}
	return customers, nil
}

func (s *CustomerService) Update(ctx context.Context, actor *domain.AdminUser, id string, req *domain.UpdateCustomerRequest) (*domain.Customer, error) {
	current, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	before := current.Profile()

	updated, err := s.customerRepo.Update(ctx, id, func(c *domain.Customer) error {
		req.Apply(c)
		c.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateIMEI) {
			return nil, &Error{
				Code:    CodeDuplicateIMEI,
				Message: "imei1 is already bound to another customer",
				Details: map[string]interface{}{"field": "imei1"},
				Err:     err,
			}
		}
		return nil, classify(err, CodeCustomerNotFound, "failed to update customer")
	}

	changes, err := profileChanges(before, updated.Profile())
	if err != nil {
		s.logger.Warn("failed to diff customer patch", zap.String("customer_id", id), zap.Error(err))
	}
	if len(changes) > 0 {
		s.audit.Record(ctx, actor.ID, updated.DealerID, domain.AuditTargetCustomer, id, "customer.update", map[string]interface{}{
			"changes": changes,
		})
	}

	if req.IMEI1 != nil || req.IMEI2 != nil {
		s.mirrorIdentity(ctx, updated)
	}

	return s.present(updated), nil
}

// mirrorIdentity keeps the live device's IMEIs in step with an edit.
func (s *CustomerService) mirrorIdentity(ctx context.Context, c *domain.Customer) {
	device, err := s.deviceRepo.FindByCustomerID(ctx, c.ID)
	if err != nil || !device.Live() {
		return
	}
	_, err = s.deviceRepo.Update(ctx, device.ID, func(d *domain.Device) error {
		d.IMEI1 = c.IMEI1
		d.IMEI2 = c.IMEI2
		d.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to mirror imei onto device", zap.String("device_id", device.ID), zap.Error(err))
	}
}

// Delete hard-deletes the customer. Enrolled devices are retired to
// REMOVED; devices that never enrolled are dropped with it.
func (s *CustomerService) Delete(ctx context.Context, actor *domain.AdminUser, id string) error {
	customer, err := s.owned(ctx, actor, id)
	if err != nil {
		return err
	}

	if err := s.customerRepo.Delete(ctx, id); err != nil {
		return classify(err, CodeCustomerNotFound, "failed to delete customer")
	}

	devices, err := s.deviceRepo.ListByCustomer(ctx, id)
	if err != nil {
		s.logger.Error("failed to list devices of deleted customer", zap.String("customer_id", id), zap.Error(err))
	}
	for _, d := range devices {
		if err := retire(ctx, s.deviceRepo, d, actor.ID, "customer deleted"); err != nil {
			s.logger.Error("failed to retire device", zap.String("device_id", d.ID), zap.Error(err))
		}
	}

	s.audit.Record(ctx, actor.ID, customer.DealerID, domain.AuditTargetCustomer, id, "customer.delete", map[string]interface{}{
		"imei1": customer.IMEI1,
	})
	return nil
}

func (s *CustomerService) OfflineTokens(ctx context.Context, actor *domain.AdminUser, id string) (*domain.OfflineTokensResponse, error) {
	customer, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return &domain.OfflineTokensResponse{
		CustomerID:    customer.ID,
		OfflineLock:   customer.OfflineLock,
		OfflineUnlock: customer.OfflineUnlock,
	}, nil
}

func (s *CustomerService) RotateOfflineTokens(ctx context.Context, actor *domain.AdminUser, id string) (*domain.OfflineTokensResponse, error) {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return nil, err
	}

	lockCode, unlockCode, err := newOfflinePair()
	if err != nil {
		return nil, err
	}

	updated, err := s.customerRepo.Update(ctx, id, func(c *domain.Customer) error {
		c.OfflineLock = lockCode
		c.OfflineUnlock = unlockCode
		c.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "failed to rotate offline tokens")
	}

	s.audit.Record(ctx, actor.ID, updated.DealerID, domain.AuditTargetCustomer, id, "customer.offline_tokens.rotate", nil)
	return &domain.OfflineTokensResponse{
		CustomerID:    updated.ID,
		OfflineLock:   updated.OfflineLock,
		OfflineUnlock: updated.OfflineUnlock,
	}, nil
}
