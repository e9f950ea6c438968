package service

import (
	"context"
	"errors"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
	"emilock-server/pkg/hash"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AdminService struct {
	adminRepo repository.AdminRepository
	guard     *QuotaGuard
	audit     *AuditService
	logger    *zap.Logger
}

func NewAdminService(adminRepo repository.AdminRepository, guard *QuotaGuard, audit *AuditService, logger *zap.Logger) *AdminService {
	return &AdminService{
		adminRepo: adminRepo,
		guard:     guard,
		audit:     audit,
		logger:    logger,
	}
}

func requireSuperAdmin(actor *domain.AdminUser) error {
	if !actor.IsSuperAdmin() {
		return newError(CodeForbidden, "super admin only", nil)
	}
	return nil
}

func (s *AdminService) create(ctx context.Context, username, email, password string, role domain.Role, limit int) (*domain.AdminUser, error) {
	if _, err := s.adminRepo.FindByEmail(ctx, email); err == nil {
		return nil, newError(CodeConflict, "email already registered", map[string]interface{}{"field": "email"})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, classify(err, CodeStoreUnavailable, "failed to check email")
	}
	if _, err := s.adminRepo.FindByUsername(ctx, username); err == nil {
		return nil, newError(CodeConflict, "username already taken", map[string]interface{}{"field": "username"})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, classify(err, CodeStoreUnavailable, "failed to check username")
	}

	if err := hash.CheckStrength(password, username, email); err != nil {
		return nil, &Error{
			Code:    CodeValidation,
			Message: err.Error(),
			Details: map[string]interface{}{"field": "password"},
			Err:     err,
		}
	}
	hashed, err := hash.Hash(password)
	if err != nil {
		return nil, wrapError(CodeValidation, "failed to hash password", err)
	}

	now := time.Now()
	admin := &domain.AdminUser{
		ID:          uuid.New().String(),
		Username:    username,
		Email:       email,
		Password:    hashed,
		Role:        role,
		DeviceLimit: limit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.adminRepo.Create(ctx, admin); err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to create admin")
	}

	admin.Password = ""
	return admin, nil
}

func (s *AdminService) Create(ctx context.Context, actor *domain.AdminUser, req *domain.CreateAdminRequest) (*domain.AdminUser, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = domain.RoleAdmin
	}

	admin, err := s.create(ctx, req.Username, req.Email, req.Password, role, req.DeviceLimit)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actor.ID, admin.ID, domain.AuditTargetAdmin, admin.ID, "admin.create", map[string]interface{}{
		"role":        admin.Role,
		"deviceLimit": admin.DeviceLimit,
	})
	return admin, nil
}

func (s *AdminService) List(ctx context.Context, actor *domain.AdminUser) ([]*domain.AdminUser, error) {
	if !actor.IsSuperAdmin() {
		self := *actor
		self.Password = ""
		return []*domain.AdminUser{&self}, nil
	}

	admins, err := s.adminRepo.List(ctx)
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to list admins")
	}
	for _, a := range admins {
		a.Password = ""
	}
	return admins, nil
}

func (s *AdminService) UpdateLimit(ctx context.Context, actor *domain.AdminUser, id string, req *domain.UpdateLimitRequest) (*domain.AdminUser, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	if req.DeviceLimit == nil || *req.DeviceLimit < 0 {
		return nil, newError(CodeValidation, "deviceLimit must be zero or more", map[string]interface{}{"field": "deviceLimit"})
	}

	admin, err := s.adminRepo.FindByID(ctx, id)
	if err != nil {
		return nil, classify(err, CodeAdminNotFound, "admin not found")
	}

	previous := admin.DeviceLimit
	admin.DeviceLimit = *req.DeviceLimit
	admin.UpdatedAt = time.Now()
	if err := s.adminRepo.Update(ctx, admin); err != nil {
		return nil, classify(err, CodeAdminNotFound, "failed to update admin")
	}

	s.audit.Record(ctx, actor.ID, admin.ID, domain.AuditTargetAdmin, admin.ID, "admin.limit", map[string]interface{}{
		"from": previous,
		"to":   admin.DeviceLimit,
	})
	admin.Password = ""
	return admin, nil
}

func (s *AdminService) Usage(ctx context.Context, actor *domain.AdminUser) (domain.Usage, error) {
	return s.guard.Usage(ctx, actor)
}

// Seed creates the first SUPER_ADMIN. It does nothing when an admin with
// the same email already exists.
func (s *AdminService) Seed(ctx context.Context, username, email, password string) (*domain.AdminUser, bool, error) {
	existing, err := s.adminRepo.FindByEmail(ctx, email)
	if err == nil {
		existing.Password = ""
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, classify(err, CodeStoreUnavailable, "failed to look up admin")
	}

	admin, err := s.create(ctx, username, email, password, domain.RoleSuperAdmin, 0)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("seeded super admin", zap.String("admin_id", admin.ID), zap.String("email", email))
	return admin, true, nil
}
