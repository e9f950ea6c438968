package service

import (
	"context"
	"errors"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"go.uber.org/zap"
)

// projector writes the customer's authoritative enrollment and lock state
// onto the device lifecycle. Device.state is never edited anywhere else.
type projector struct {
	deviceRepo repository.DeviceRepository
}

// project brings the customer's live device to the state the customer
// implies. Nothing happens before enrollment. A customer whose devices are
// all REMOVED yields a TransitionError: reuse needs a new identity.
func (p *projector) project(ctx context.Context, c *domain.Customer, actorID, reason string) (*domain.Device, error) {
	if !c.IsEnrolled {
		return nil, nil
	}
	now := time.Now()
	target := c.ExpectedState()

	device, err := p.deviceRepo.FindByCustomerID(ctx, c.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		device, err = newPendingDevice(c, actorID, "", now, 0)
		if err != nil {
			return nil, err
		}
		if err := p.deviceRepo.Create(ctx, device); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case !device.Live():
		return nil, &domain.TransitionError{From: device.State, To: target}
	}

	return p.deviceRepo.Update(ctx, device.ID, func(d *domain.Device) error {
		if d.State == domain.DeviceStateUnassigned {
			if _, err := d.Transition(domain.DeviceStatePending, reason, actorID, now); err != nil {
				return err
			}
		}
		if d.State == domain.DeviceStatePending {
			if _, err := d.Transition(domain.DeviceStateActive, reason, actorID, now); err != nil {
				return err
			}
			d.EnrollmentToken = ""
			d.EnrollmentTokenExpiresAt = nil
		}
		if _, err := d.Transition(target, reason, actorID, now); err != nil {
			return err
		}
		d.MirrorTechnical(c)
		if c.DeviceStatus.LastSeen != nil {
			seen := *c.DeviceStatus.LastSeen
			d.LastSeen = &seen
		}
		d.UpdatedAt = now
		return nil
	})
}

// retire takes a device out of service: enrolled devices become REMOVED,
// devices that never enrolled are deleted outright.
func retire(ctx context.Context, deviceRepo repository.DeviceRepository, d *domain.Device, actorID, reason string) error {
	switch d.State {
	case domain.DeviceStateActive, domain.DeviceStateLocked:
		_, err := deviceRepo.Update(ctx, d.ID, func(dev *domain.Device) error {
			if _, err := dev.Transition(domain.DeviceStateRemoved, reason, actorID, time.Now()); err != nil {
				return err
			}
			dev.EnrollmentToken = ""
			dev.EnrollmentTokenExpiresAt = nil
			return nil
		})
		return err
	case domain.DeviceStatePending, domain.DeviceStateUnassigned:
		return deviceRepo.Delete(ctx, d.ID)
	}
	return nil
}

// ReconcileService reports and optionally repairs drift between customers
// and their device projections.
type ReconcileService struct {
	customerRepo repository.CustomerRepository
	deviceRepo   repository.DeviceRepository
	projector    *projector
	logger       *zap.Logger
}

func NewReconcileService(customerRepo repository.CustomerRepository, deviceRepo repository.DeviceRepository, logger *zap.Logger) *ReconcileService {
	return &ReconcileService{
		customerRepo: customerRepo,
		deviceRepo:   deviceRepo,
		projector:    &projector{deviceRepo: deviceRepo},
		logger:       logger,
	}
}

const reconcileActor = "system:reconcile"

func (s *ReconcileService) Run(ctx context.Context, apply bool) (*domain.ReconcileReport, error) {
	customers, err := s.customerRepo.List(ctx, "")
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to list customers")
	}
	devices, err := s.deviceRepo.List(ctx, "")
	if err != nil {
		return nil, classify(err, CodeStoreUnavailable, "failed to list devices")
	}

	report := &domain.ReconcileReport{
		Customers:   len(customers),
		Devices:     len(devices),
		Drifts:      []domain.Drift{},
		Applied:     apply,
		GeneratedAt: time.Now(),
	}

	byCustomer := make(map[string][]*domain.Device)
	for _, d := range devices {
		if id := d.CustomerID(); id != "" {
			byCustomer[id] = append(byCustomer[id], d)
		}
	}

	known := make(map[string]bool, len(customers))
	for _, c := range customers {
		known[c.ID] = true
		if drift, ok := s.check(c, byCustomer[c.ID]); ok {
			if apply && c.IsEnrolled {
				s.fix(ctx, c, &drift)
			}
			report.Drifts = append(report.Drifts, drift)
		}
	}

	for _, d := range devices {
		id := d.CustomerID()
		if id == "" || known[id] || !d.Live() {
			continue
		}
		drift := domain.Drift{
			Kind:       domain.DriftOrphanDevice,
			CustomerID: id,
			DeviceID:   d.ID,
			Actual:     string(d.State),
		}
		if apply {
			if err := retire(ctx, s.deviceRepo, d, reconcileActor, "customer no longer exists"); err != nil {
				drift.Error = err.Error()
			} else {
				drift.Fixed = true
			}
		}
		report.Drifts = append(report.Drifts, drift)
	}

	s.logger.Info("reconcile finished",
		zap.Int("customers", report.Customers),
		zap.Int("devices", report.Devices),
		zap.Int("drifts", len(report.Drifts)),
		zap.Bool("applied", apply),
	)
	return report, nil
}

func (s *ReconcileService) check(c *domain.Customer, devices []*domain.Device) (domain.Drift, bool) {
	expected := c.ExpectedState()

	var live *domain.Device
	for _, d := range devices {
		if d.Live() && (live == nil || d.CreatedAt.After(live.CreatedAt)) {
			live = d
		}
	}

	if live == nil {
		if !c.IsEnrolled {
			return domain.Drift{}, false
		}
		actual := "none"
		if len(devices) > 0 {
			actual = string(domain.DeviceStateRemoved)
		}
		return domain.Drift{
			Kind:       domain.DriftMissingDevice,
			CustomerID: c.ID,
			Expected:   string(expected),
			Actual:     actual,
		}, true
	}

	// A device still waiting for its QR scan agrees with an unenrolled customer.
	if !c.IsEnrolled && (live.State == domain.DeviceStatePending || live.State == domain.DeviceStateUnassigned) {
		return domain.Drift{}, false
	}
	if live.State != expected {
		return domain.Drift{
			Kind:       domain.DriftState,
			CustomerID: c.ID,
			DeviceID:   live.ID,
			Expected:   string(expected),
			Actual:     string(live.State),
		}, true
	}
	if c.IMEI1 != "" && live.IMEI1 != c.IMEI1 {
		return domain.Drift{
			Kind:       domain.DriftIdentity,
			CustomerID: c.ID,
			DeviceID:   live.ID,
			Expected:   c.IMEI1,
			Actual:     live.IMEI1,
		}, true
	}
	return domain.Drift{}, false
}

func (s *ReconcileService) fix(ctx context.Context, c *domain.Customer, drift *domain.Drift) {
	device, err := s.projector.project(ctx, c, reconcileActor, "reconciled from customer record")
	if err != nil {
		drift.Error = err.Error()
		s.logger.Warn("reconcile could not repair drift",
			zap.String("customer_id", c.ID),
			zap.String("kind", string(drift.Kind)),
			zap.Error(err),
		)
		return
	}
	drift.Fixed = true
	if device != nil {
		drift.DeviceID = device.ID
	}
}
