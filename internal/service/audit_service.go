package service

import (
	"context"
	"strings"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
	"emilock-server/pkg/ulid"

	"github.com/r3labs/diff"
	"go.uber.org/zap"
)

const defaultAuditLimit = 100

type AuditService struct {
	auditRepo repository.AuditRepository
	logger    *zap.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, logger *zap.Logger) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// Record appends an audit entry. The action it describes has already been
// committed, so a failed append is logged instead of returned.
func (s *AuditService) Record(ctx context.Context, actorID, dealerID string, target domain.AuditTarget, targetID, action string, details map[string]interface{}) {
	now := time.Now()
	entry := &domain.AuditLog{
		ID:         ulid.NewAt(now),
		ActorID:    actorID,
		DealerID:   dealerID,
		TargetType: target,
		TargetID:   targetID,
		Action:     action,
		Details:    details,
		CreatedAt:  now,
	}

	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit log",
			zap.String("action", action),
			zap.String("target_id", targetID),
			zap.String("actor_id", actorID),
			zap.Error(err),
		)
	}
}

// List returns audit entries visible to actor, newest first.
func (s *AuditService) List(ctx context.Context, actor *domain.AdminUser, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	if !actor.IsSuperAdmin() {
		filter.DealerID = actor.ID
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = defaultAuditLimit
	}

	entries, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to list audit logs")
	}
	return entries, nil
}

type fieldChange struct {
	Field string      `json:"field"`
	From  interface{} `json:"from"`
	To    interface{} `json:"to"`
}

// profileChanges lists the customer fields a patch actually changed.
func profileChanges(before, after domain.CustomerProfile) ([]fieldChange, error) {
	changelog, err := diff.Diff(before, after)
	if err != nil {
		return nil, err
	}

	changes := make([]fieldChange, 0, len(changelog))
	for _, c := range changelog {
		changes = append(changes, fieldChange{
			Field: strings.Join(c.Path, "."),
			From:  c.From,
			To:    c.To,
		})
	}
	return changes, nil
}
