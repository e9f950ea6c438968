package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
	"emilock-server/pkg/apkhash"

	"go.uber.org/zap"
)

type ProvisioningConfig struct {
	// BaseURL overrides the host inferred from the request.
	BaseURL       string
	APKPath       string
	APKName       string
	ComponentName string
}

// checksummer is satisfied by apkhash.Cache.
type checksummer interface {
	File(ctx context.Context, path string) (string, error)
}

type ProvisioningService struct {
	customerRepo repository.CustomerRepository
	checksums    checksummer
	cfg          ProvisioningConfig
	logger       *zap.Logger
}

func NewProvisioningService(customerRepo repository.CustomerRepository, checksums *apkhash.Cache, cfg ProvisioningConfig, logger *zap.Logger) *ProvisioningService {
	return &ProvisioningService{
		customerRepo: customerRepo,
		checksums:    checksums,
		cfg:          cfg,
		logger:       logger,
	}
}

// httpsBase normalizes the public base URL. Android 12+ refuses non-TLS
// download locations, so the scheme is https whatever was configured.
func httpsBase(configured, requestHost string) (string, error) {
	raw := strings.TrimSpace(configured)
	if raw == "" {
		raw = strings.TrimSpace(requestHost)
	}
	if raw == "" {
		return "", newError(CodeValidation, "cannot determine public host for provisioning", nil)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", newError(CodeValidation, "invalid provisioning base url", map[string]interface{}{"baseUrl": raw})
	}
	u.Scheme = "https"
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// Build assembles the provisioning payload for a customer. It mutates
// nothing, and an unchanged APK yields a byte-identical payload.
func (s *ProvisioningService) Build(ctx context.Context, actor *domain.AdminUser, customerID, requestHost string) (*domain.ProvisioningPayload, error) {
	customer, err := s.customerRepo.FindByID(ctx, customerID)
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "customer not found")
	}
	if !actor.CanAccess(customer.DealerID) {
		return nil, newError(CodeForbidden, "customer belongs to another dealer", nil)
	}

	base, err := httpsBase(s.cfg.BaseURL, requestHost)
	if err != nil {
		return nil, err
	}

	sum, err := s.checksums.File(ctx, s.cfg.APKPath)
	if err != nil {
		if errors.Is(err, apkhash.ErrNotFound) {
			s.logger.Error("agent apk missing", zap.String("path", s.cfg.APKPath), zap.Error(err))
			return nil, &Error{
				Code:    CodeAPKNotFound,
				Message: "agent apk is not deployed",
				Details: map[string]interface{}{
					"path": s.cfg.APKPath,
					"hint": "place the signed agent apk at APK_PATH and retry",
				},
				Err: err,
			}
		}
		s.logger.Error("failed to checksum agent apk", zap.String("path", s.cfg.APKPath), zap.Error(err))
		return nil, wrapError(CodeChecksumFailed, "failed to compute apk checksum", err)
	}

	return &domain.ProvisioningPayload{
		ComponentName:    s.cfg.ComponentName,
		DownloadLocation: base + "/downloads/" + url.PathEscape(s.cfg.APKName),
		PackageChecksum:  sum,
		SkipEncryption:   true,
		LeaveSystemApps:  true,
		AdminExtras: domain.AdminExtras{
			CustomerID: customer.ID,
			ServerURL:  base,
		},
	}, nil
}
