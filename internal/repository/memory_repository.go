package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"emilock-server/internal/domain"
)

// memoryRow keeps a record serialized so callers never share memory with
// the store. rev plays the role of CouchDB's _rev for conditional updates.
type memoryRow struct {
	rev  int
	data []byte
}

// MemoryStore is an in-process Entity Store with the same uniqueness and
// conditional-update rules as the CouchDB implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]memoryRow
	devices   map[string]memoryRow
	admins    map[string]memoryRow
	audit     map[string]memoryRow
	imeis     map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[string]memoryRow),
		devices:   make(map[string]memoryRow),
		admins:    make(map[string]memoryRow),
		audit:     make(map[string]memoryRow),
		imeis:     make(map[string]string),
	}
}

func (s *MemoryStore) Customers() CustomerRepository { return &memoryCustomerRepository{s} }
func (s *MemoryStore) Devices() DeviceRepository     { return &memoryDeviceRepository{s} }
func (s *MemoryStore) Admins() AdminRepository       { return &memoryAdminRepository{s} }
func (s *MemoryStore) Audit() AuditRepository        { return &memoryAuditRepository{s} }

func decodeRow[T any](row memoryRow) (*T, error) {
	var v T
	if err := json.Unmarshal(row.data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &v, nil
}

func decodeAll[T any](rows map[string]memoryRow, keep func(*T) bool) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		v, err := decodeRow[T](row)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func encodeRow(v interface{}, rev int) (memoryRow, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return memoryRow{}, fmt.Errorf("failed to encode record: %w", err)
	}
	return memoryRow{rev: rev, data: data}, nil
}

// Customers

type memoryCustomerRepository struct {
	s *MemoryStore
}

func (r *memoryCustomerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := encodeRow(customer, 1)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.customers[customer.ID]; ok {
		return ErrAlreadyExists
	}
	if customer.IMEI1 != "" {
		if _, taken := r.s.imeis[customer.IMEI1]; taken {
			return ErrDuplicateIMEI
		}
		r.s.imeis[customer.IMEI1] = customer.ID
	}
	r.s.customers[customer.ID] = row
	return nil
}

func (r *memoryCustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	c, _, err := r.load(ctx, id)
	return c, err
}

func (r *memoryCustomerRepository) load(ctx context.Context, id string) (*domain.Customer, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.s.mu.RLock()
	row, ok := r.s.customers[id]
	r.s.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}

	c, err := decodeRow[domain.Customer](row)
	if err != nil {
		return nil, 0, err
	}
	return c, row.rev, nil
}

func (r *memoryCustomerRepository) FindByIMEI(ctx context.Context, imei string) (*domain.Customer, error) {
	r.s.mu.RLock()
	id, ok := r.s.imeis[imei]
	r.s.mu.RUnlock()
	if ok {
		return r.FindByID(ctx, id)
	}

	r.s.mu.RLock()
	matches, err := decodeAll(r.s.customers, func(c *domain.Customer) bool {
		return c.ExpectedIMEI == imei
	})
	r.s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return pickExpected(matches)
}

func (r *memoryCustomerRepository) List(ctx context.Context, dealerID string) ([]*domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return decodeAll(r.s.customers, func(c *domain.Customer) bool {
		return dealerID == "" || c.DealerID == dealerID
	})
}

func (r *memoryCustomerRepository) Update(ctx context.Context, id string, mutate Mutator[domain.Customer]) (*domain.Customer, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		c, rev, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		prevIMEI := c.IMEI1
		if err := mutate(c); err != nil {
			return nil, err
		}
		c.ID = id

		row, err := encodeRow(c, rev+1)
		if err != nil {
			return nil, err
		}

		committed, err := r.commit(id, rev, prevIMEI, c.IMEI1, row)
		if err != nil {
			return nil, err
		}
		if committed {
			return c, nil
		}
	}
	return nil, ErrConflict
}

func (r *memoryCustomerRepository) commit(id string, rev int, prevIMEI, imei string, row memoryRow) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.customers[id]
	if !ok {
		return false, ErrNotFound
	}
	if current.rev != rev {
		return false, nil
	}
	if imei != prevIMEI {
		if imei != "" {
			if owner, taken := r.s.imeis[imei]; taken && owner != id {
				return false, ErrDuplicateIMEI
			}
			r.s.imeis[imei] = id
		}
		if prevIMEI != "" && r.s.imeis[prevIMEI] == id {
			delete(r.s.imeis, prevIMEI)
		}
	}
	r.s.customers[id] = row
	return true, nil
}

func (r *memoryCustomerRepository) Delete(ctx context.Context, id string) error {
	c, _, err := r.load(ctx, id)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.customers[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.customers, id)
	if c.IMEI1 != "" && r.s.imeis[c.IMEI1] == id {
		delete(r.s.imeis, c.IMEI1)
	}
	return nil
}

// Devices

type memoryDeviceRepository struct {
	s *MemoryStore
}

func (r *memoryDeviceRepository) Create(ctx context.Context, device *domain.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := encodeRow(device, 1)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.devices[device.ID]; ok {
		return ErrAlreadyExists
	}
	r.s.devices[device.ID] = row
	return nil
}

func (r *memoryDeviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	d, _, err := r.load(ctx, deviceID)
	return d, err
}

func (r *memoryDeviceRepository) load(ctx context.Context, deviceID string) (*domain.Device, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.s.mu.RLock()
	row, ok := r.s.devices[deviceID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, 0, ErrNotFound
	}

	d, err := decodeRow[domain.Device](row)
	if err != nil {
		return nil, 0, err
	}
	return d, row.rev, nil
}

func (r *memoryDeviceRepository) filter(ctx context.Context, keep func(*domain.Device) bool) ([]*domain.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return decodeAll(r.s.devices, keep)
}

func (r *memoryDeviceRepository) FindByCustomerID(ctx context.Context, customerID string) (*domain.Device, error) {
	devices, err := r.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return pickAssigned(devices)
}

func (r *memoryDeviceRepository) FindByIMEI(ctx context.Context, imei string) (*domain.Device, error) {
	devices, err := r.filter(ctx, func(d *domain.Device) bool { return d.IMEI1 == imei })
	if err != nil {
		return nil, err
	}
	return pickAssigned(devices)
}

func (r *memoryDeviceRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Device, error) {
	return r.filter(ctx, func(d *domain.Device) bool { return d.CustomerID() == customerID })
}

func (r *memoryDeviceRepository) List(ctx context.Context, dealerID string) ([]*domain.Device, error) {
	return r.filter(ctx, func(d *domain.Device) bool { return dealerID == "" || d.DealerID == dealerID })
}

func (r *memoryDeviceRepository) CountActiveByDealer(ctx context.Context, dealerID string) (int, error) {
	devices, err := r.filter(ctx, func(d *domain.Device) bool {
		return d.DealerID == dealerID && d.State != domain.DeviceStateRemoved
	})
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

func (r *memoryDeviceRepository) Update(ctx context.Context, deviceID string, mutate Mutator[domain.Device]) (*domain.Device, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		d, rev, err := r.load(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		if err := mutate(d); err != nil {
			return nil, err
		}
		d.ID = deviceID

		row, err := encodeRow(d, rev+1)
		if err != nil {
			return nil, err
		}

		r.s.mu.Lock()
		current, ok := r.s.devices[deviceID]
		if !ok {
			r.s.mu.Unlock()
			return nil, ErrNotFound
		}
		if current.rev == rev {
			r.s.devices[deviceID] = row
			r.s.mu.Unlock()
			return d, nil
		}
		r.s.mu.Unlock()
	}
	return nil, ErrConflict
}

func (r *memoryDeviceRepository) Delete(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.devices[deviceID]; !ok {
		return ErrNotFound
	}
	delete(r.s.devices, deviceID)
	return nil
}

// Admins

type memoryAdminRepository struct {
	s *MemoryStore
}

func (r *memoryAdminRepository) Create(ctx context.Context, admin *domain.AdminUser) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := encodeRow(admin, 1)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.admins[admin.ID]; ok {
		return ErrAlreadyExists
	}
	r.s.admins[admin.ID] = row
	return nil
}

func (r *memoryAdminRepository) findOne(ctx context.Context, match func(*domain.AdminUser) bool) (*domain.AdminUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	admins, err := decodeAll(r.s.admins, match)
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		return nil, ErrNotFound
	}
	return admins[0], nil
}

func (r *memoryAdminRepository) FindByEmail(ctx context.Context, email string) (*domain.AdminUser, error) {
	return r.findOne(ctx, func(a *domain.AdminUser) bool { return a.Email == email })
}

func (r *memoryAdminRepository) FindByUsername(ctx context.Context, username string) (*domain.AdminUser, error) {
	return r.findOne(ctx, func(a *domain.AdminUser) bool { return a.Username == username })
}

func (r *memoryAdminRepository) FindByID(ctx context.Context, id string) (*domain.AdminUser, error) {
	return r.findOne(ctx, func(a *domain.AdminUser) bool { return a.ID == id })
}

func (r *memoryAdminRepository) Update(ctx context.Context, admin *domain.AdminUser) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.admins[admin.ID]
	if !ok {
		return ErrNotFound
	}
	row, err := encodeRow(admin, current.rev+1)
	if err != nil {
		return err
	}
	r.s.admins[admin.ID] = row
	return nil
}

func (r *memoryAdminRepository) List(ctx context.Context) ([]*domain.AdminUser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	admins, err := decodeAll[domain.AdminUser](r.s.admins, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].CreatedAt.Before(admins[j].CreatedAt) })
	return admins, nil
}

// Audit

type memoryAuditRepository struct {
	s *MemoryStore
}

func (r *memoryAuditRepository) Append(ctx context.Context, entry *domain.AuditLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, err := encodeRow(entry, 1)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.audit[entry.ID] = row
	return nil
}

func (r *memoryAuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.s.mu.RLock()
	entries, err := decodeAll(r.s.audit, func(e *domain.AuditLog) bool {
		return (filter.DealerID == "" || e.DealerID == filter.DealerID) &&
			(filter.TargetID == "" || e.TargetID == filter.TargetID) &&
			(filter.ActorID == "" || e.ActorID == filter.ActorID)
	})
	r.s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	// ULIDs sort lexically in creation order.
	sort.Slice(entries, func(i, j int) bool { return strings.Compare(entries[i].ID, entries[j].ID) > 0 })
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}
