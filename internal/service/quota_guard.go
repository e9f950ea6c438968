package service

import (
	"context"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"go.uber.org/zap"
)

type usageKey struct{}

// WithUsage attaches a pre-mutation quota snapshot to ctx. It is
// informational and one unit stale once the mutation commits.
func WithUsage(ctx context.Context, u domain.Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

func UsageFromContext(ctx context.Context) (domain.Usage, bool) {
	u, ok := ctx.Value(usageKey{}).(domain.Usage)
	return u, ok
}

// QuotaGuard bounds how many live devices an ADMIN dealer may hold.
type QuotaGuard struct {
	deviceRepo repository.DeviceRepository
	logger     *zap.Logger
}

func NewQuotaGuard(deviceRepo repository.DeviceRepository, logger *zap.Logger) *QuotaGuard {
	return &QuotaGuard{
		deviceRepo: deviceRepo,
		logger:     logger,
	}
}

// Usage reports the actor's current consumption without enforcing it.
func (g *QuotaGuard) Usage(ctx context.Context, actor *domain.AdminUser) (domain.Usage, error) {
	if actor.IsSuperAdmin() {
		return domain.Usage{Unlimited: true}, nil
	}

	current, err := g.deviceRepo.CountActiveByDealer(ctx, actor.ID)
	if err != nil {
		return domain.Usage{}, classify(err, CodeStoreUnavailable, "failed to count devices")
	}

	remaining := actor.DeviceLimit - current
	if remaining < 0 {
		remaining = 0
	}
	return domain.Usage{
		Current:   current,
		Limit:     actor.DeviceLimit,
		Remaining: remaining,
	}, nil
}

// Check admits one more device for actor or fails with QUOTA_EXCEEDED.
// A limit of zero admits nothing; only SUPER_ADMIN is unlimited.
func (g *QuotaGuard) Check(ctx context.Context, actor *domain.AdminUser) (domain.Usage, error) {
	usage, err := g.Usage(ctx, actor)
	if err != nil {
		return usage, err
	}
	if usage.Unlimited {
		return usage, nil
	}

	if usage.Current >= usage.Limit {
		g.logger.Info("device limit reached",
			zap.String("dealer_id", actor.ID),
			zap.Int("current", usage.Current),
			zap.Int("limit", usage.Limit),
		)
		return usage, newError(CodeQuotaExceeded, "device limit reached", map[string]interface{}{
			"current": usage.Current,
			"limit":   usage.Limit,
		})
	}
	return usage, nil
}

// admit runs Check unless the transport already did for this request.
func (g *QuotaGuard) admit(ctx context.Context, actor *domain.AdminUser) error {
	if _, ok := UsageFromContext(ctx); ok {
		return nil
	}
	_, err := g.Check(ctx, actor)
	return err
}
