package service

import (
	"context"
	"net/url"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"
	"emilock-server/pkg/ulid"

	"go.uber.org/zap"
)

// CommandService fills the single pending-command slot that the next
// heartbeat drains.
type CommandService struct {
	customerRepo repository.CustomerRepository
	projector    *projector
	audit        *AuditService
	notifier     Notifier
	logger       *zap.Logger
}

func NewCommandService(
	customerRepo repository.CustomerRepository,
	deviceRepo repository.DeviceRepository,
	audit *AuditService,
	notifier Notifier,
	logger *zap.Logger,
) *CommandService {
	return &CommandService{
		customerRepo: customerRepo,
		projector:    &projector{deviceRepo: deviceRepo},
		audit:        audit,
		notifier:     notifierOrNop(notifier),
		logger:       logger,
	}
}

func validateCommand(req *domain.CommandRequest) error {
	if !req.Command.Valid() {
		return newError(CodeValidation, "unknown command", map[string]interface{}{"field": "command", "command": req.Command})
	}
	switch req.Command {
	case domain.CommandSetPin:
		if l := len(req.Pin); l < 4 || l > 8 || !isDigits(req.Pin) {
			return newError(CodeValidation, "pin must be 4 to 8 digits", map[string]interface{}{"field": "pin"})
		}
	case domain.CommandSetWallpaper:
		u, err := url.Parse(req.WallpaperURL)
		if req.WallpaperURL == "" || err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return newError(CodeValidation, "wallpaperUrl must be an absolute http(s) url", map[string]interface{}{"field": "wallpaperUrl"})
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Issue overwrites any undelivered command. lock and unlock also flip the
// customer's lock flag, which the device projection follows.
func (s *CommandService) Issue(ctx context.Context, actor *domain.AdminUser, customerID string, req *domain.CommandRequest) (*domain.CommandResponse, error) {
	if err := validateCommand(req); err != nil {
		return nil, err
	}

	current, err := s.customerRepo.FindByID(ctx, customerID)
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "customer not found")
	}
	if !actor.CanAccess(current.DealerID) {
		return nil, newError(CodeForbidden, "customer belongs to another dealer", nil)
	}

	now := time.Now()
	eventID := ulid.NewAt(now)
	cmd := &domain.RemoteCommand{
		Command:   req.Command,
		Params:    req.Params(),
		Timestamp: now,
		IssuedBy:  actor.ID,
	}

	updated, err := s.customerRepo.Update(ctx, customerID, func(c *domain.Customer) error {
		c.RemoteCommand = cmd
		switch req.Command {
		case domain.CommandLock:
			c.IsLocked = true
		case domain.CommandUnlock:
			c.IsLocked = false
		}
		if req.Command == domain.CommandLock || req.Command == domain.CommandUnlock {
			c.LockHistory = append(c.LockHistory, domain.LockEvent{
				ID:        eventID,
				Action:    domain.LockAction(req.Command),
				Reason:    req.Reason,
				Actor:     actor.ID,
				Timestamp: now,
			})
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "failed to store command")
	}

	s.audit.Record(ctx, actor.ID, updated.DealerID, domain.AuditTargetCustomer, customerID, "command."+string(req.Command), map[string]interface{}{
		"reason": req.Reason,
	})

	if req.Command == domain.CommandLock || req.Command == domain.CommandUnlock {
		if _, err := s.projector.project(ctx, updated, actor.ID, string(req.Command)+" command"); err != nil {
			s.logger.Warn("failed to project lock state onto device",
				zap.String("customer_id", customerID), zap.Error(err))
		}
	}

	s.logger.Info("command issued",
		zap.String("customer_id", customerID),
		zap.String("command", string(req.Command)),
		zap.String("actor_id", actor.ID),
	)
	s.notifier.Publish(updated.DealerID, EventCommandIssued, map[string]interface{}{
		"customerId": customerID,
		"command":    cmd,
		"isLocked":   updated.IsLocked,
	})

	return &domain.CommandResponse{
		CustomerID: customerID,
		IsLocked:   updated.IsLocked,
		Pending:    updated.RemoteCommand,
	}, nil
}

// Pending returns the undelivered command, if any.
func (s *CommandService) Pending(ctx context.Context, actor *domain.AdminUser, customerID string) (*domain.CommandResponse, error) {
	c, err := s.customerRepo.FindByID(ctx, customerID)
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "customer not found")
	}
	if !actor.CanAccess(c.DealerID) {
		return nil, newError(CodeForbidden, "customer belongs to another dealer", nil)
	}
	return &domain.CommandResponse{
		CustomerID: c.ID,
		IsLocked:   c.IsLocked,
		Pending:    c.RemoteCommand,
	}, nil
}
