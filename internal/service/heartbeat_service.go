package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"go.uber.org/zap"
)

type HeartbeatService struct {
	customerRepo repository.CustomerRepository
	deviceRepo   repository.DeviceRepository
	audit        *AuditService
	notifier     Notifier
	logger       *zap.Logger
}

func NewHeartbeatService(
	customerRepo repository.CustomerRepository,
	deviceRepo repository.DeviceRepository,
	audit *AuditService,
	notifier Notifier,
	logger *zap.Logger,
) *HeartbeatService {
	return &HeartbeatService{
		customerRepo: customerRepo,
		deviceRepo:   deviceRepo,
		audit:        audit,
		notifier:     notifierOrNop(notifier),
		logger:       logger,
	}
}

// heartbeatSections holds the optional parts of a heartbeat that decoded
// cleanly. Anything malformed is left nil.
type heartbeatSections struct {
	location *domain.LocationReport
	features map[string]bool
	sim      *domain.SimReport
	steps    *domain.Steps
}

func (s *HeartbeatService) decodeSections(req *domain.HeartbeatRequest) heartbeatSections {
	var out heartbeatSections
	drop := func(section string, err error) {
		s.logger.Debug("ignoring malformed heartbeat section",
			zap.String("customer_id", req.CustomerID),
			zap.String("device_id", req.DeviceID),
			zap.String("section", section),
			zap.Error(err),
		)
	}

	if present(req.Location) {
		var loc domain.LocationReport
		if err := json.Unmarshal(req.Location, &loc); err != nil {
			drop("location", err)
		} else if loc.Valid() {
			out.location = &loc
		}
	}
	if present(req.Features) {
		var features map[string]bool
		if err := json.Unmarshal(req.Features, &features); err != nil {
			drop("features", err)
		} else if len(features) > 0 {
			out.features = features
		}
	}
	if present(req.Sim) {
		var sim domain.SimReport
		if err := json.Unmarshal(req.Sim, &sim); err != nil {
			drop("sim", err)
		} else if sim.SerialNumber != "" || sim.Operator != "" {
			out.sim = &sim
		}
	}
	if present(req.Step) {
		// Either a single step name or a checklist object.
		var name domain.Step
		var steps domain.Steps
		if err := json.Unmarshal(req.Step, &name); err == nil {
			if steps.Mark(name) {
				out.steps = &steps
			} else {
				drop("step", errors.New("unknown step"))
			}
		} else if err := json.Unmarshal(req.Step, &steps); err == nil {
			out.steps = &steps
		} else {
			drop("step", err)
		}
	}
	return out
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// reportedStatus falls back to online for anything that is not one of the
// statuses an agent may report, including a status of the wrong JSON type.
func reportedStatus(raw json.RawMessage) domain.InstallStatus {
	var status string
	if present(raw) {
		_ = json.Unmarshal(raw, &status)
	}
	switch s := domain.InstallStatus(status); s {
	case domain.InstallStatusOnline, domain.InstallStatusConnected, domain.InstallStatusError:
		return s
	}
	return domain.InstallStatusOnline
}

func (s *HeartbeatService) resolve(ctx context.Context, req *domain.HeartbeatRequest) (string, error) {
	if req.CustomerID == "" && req.DeviceID == "" {
		return "", newError(CodeValidation, "customerId or deviceId is required", nil)
	}

	if req.CustomerID != "" {
		_, err := s.customerRepo.FindByID(ctx, req.CustomerID)
		if err == nil {
			return req.CustomerID, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return "", classify(err, CodeStoreUnavailable, "failed to load customer")
		}
		if req.DeviceID == "" {
			return "", newError(CodeCustomerNotFound, "customer not found", map[string]interface{}{"customerId": req.CustomerID})
		}
	}

	device, err := s.deviceRepo.FindByID(ctx, req.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", newError(CodeDeviceNotFound, "device not found", map[string]interface{}{"deviceId": req.DeviceID})
		}
		return "", classify(err, CodeStoreUnavailable, "failed to load device")
	}
	if device.CustomerID() == "" {
		return "", newError(CodeCustomerNotFound, "device is not assigned to a customer", map[string]interface{}{"deviceId": req.DeviceID})
	}
	return device.CustomerID(), nil
}

// Ingest records liveness and hands over the pending command. Reading and
// clearing the command happen in one conditional update, so concurrent
// polls deliver it exactly once.
func (s *HeartbeatService) Ingest(ctx context.Context, req *domain.HeartbeatRequest) (*domain.HeartbeatResponse, error) {
	customerID, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	sections := s.decodeSections(req)
	status := reportedStatus(req.Status)

	var (
		delivered *domain.RemoteCommand
		simChange *domain.SimChange
	)
	now := time.Now()

	updated, err := s.customerRepo.Update(ctx, customerID, func(c *domain.Customer) error {
		delivered, simChange = nil, nil

		st := &c.DeviceStatus
		seen := now
		st.LastSeen = &seen
		st.Status = status

		if loc := sections.location; loc != nil {
			c.Location = &domain.Location{
				Lat:         *loc.Lat,
				Lng:         *loc.Lng,
				Accuracy:    loc.Accuracy,
				LastUpdated: now,
			}
		}
		if len(sections.features) > 0 {
			if st.Features == nil {
				st.Features = make(map[string]bool, len(sections.features))
			}
			for k, v := range sections.features {
				st.Features[k] = v
			}
		}
		if sections.sim != nil {
			simChange = applySim(c, sections.sim, req.ClientIP, now)
		}
		if sections.steps != nil {
			st.Steps.Merge(*sections.steps)
			st.AdvanceProgress(st.Steps.Progress())
		}

		if c.RemoteCommand != nil {
			delivered = c.RemoteCommand
			c.RemoteCommand = nil
			st.LastDelivered = &domain.DeliveredCommand{
				Command:     delivered.Command,
				IssuedAt:    delivered.Timestamp,
				DeliveredAt: now,
			}
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, classify(err, CodeCustomerNotFound, "failed to record heartbeat")
	}

	if simChange != nil {
		s.logger.Warn("sim change detected",
			zap.String("customer_id", updated.ID),
			zap.String("previous", simChange.Previous.SerialNumber),
			zap.String("current", simChange.Current.SerialNumber),
		)
		s.audit.Record(ctx, agentActor, updated.DealerID, domain.AuditTargetCustomer, updated.ID, "device.sim_changed", map[string]interface{}{
			"previous": simChange.Previous.SerialNumber,
			"current":  simChange.Current.SerialNumber,
			"ip":       simChange.IP,
		})
		s.notifier.Publish(updated.DealerID, EventSimChanged, map[string]interface{}{
			"customerId": updated.ID,
			"change":     simChange,
		})
	}
	if delivered != nil {
		s.logger.Info("command delivered",
			zap.String("customer_id", updated.ID),
			zap.String("command", string(delivered.Command)),
		)
		s.notifier.Publish(updated.DealerID, EventCommandDelivered, map[string]interface{}{
			"customerId": updated.ID,
			"command":    delivered,
		})
	}
	s.notifier.Publish(updated.DealerID, EventDeviceStatus, map[string]interface{}{
		"customerId": updated.ID,
		"isLocked":   updated.IsLocked,
		"status":     updated.DeviceStatus.Status,
		"lastSeen":   updated.DeviceStatus.LastSeen,
		"location":   updated.Location,
	})

	return &domain.HeartbeatResponse{
		IsLocked: updated.IsLocked,
		Command:  delivered,
	}, nil
}

// applySim updates the SIM sub-document and returns the change entry when
// the ICCID differs from the one on record. The first SIM seen is the
// authorized one.
func applySim(c *domain.Customer, r *domain.SimReport, ip string, now time.Time) *domain.SimChange {
	next := domain.SimDetails{
		Operator:     r.Operator,
		SerialNumber: r.SerialNumber,
		PhoneNumber:  r.PhoneNumber,
		IMSI:         r.IMSI,
		UpdatedAt:    now,
	}

	prev := c.SimDetails
	if prev == nil {
		next.IsAuthorized = true
		c.SimDetails = &next
		return nil
	}

	if r.SerialNumber == "" || r.SerialNumber == prev.SerialNumber {
		// Same card: fill in what changed without touching history.
		if r.Operator != "" {
			prev.Operator = r.Operator
		}
		if r.PhoneNumber != "" {
			prev.PhoneNumber = r.PhoneNumber
		}
		if r.IMSI != "" {
			prev.IMSI = r.IMSI
		}
		return nil
	}

	change := domain.SimChange{
		Previous:   *prev,
		Current:    next,
		DetectedAt: now,
		IP:         ip,
	}
	c.SimChangeHistory = append(c.SimChangeHistory, change)
	c.SimDetails = &next
	return &change
}
