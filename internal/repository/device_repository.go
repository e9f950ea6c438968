package repository

import (
	"context"
	"fmt"
	"sort"

	"emilock-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *domain.Device) error
	FindByID(ctx context.Context, deviceID string) (*domain.Device, error)
	// FindByCustomerID returns the live device assigned to the customer, or
	// the most recently created one when every assignment was removed.
	FindByCustomerID(ctx context.Context, customerID string) (*domain.Device, error)
	FindByIMEI(ctx context.Context, imei string) (*domain.Device, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*domain.Device, error)
	List(ctx context.Context, dealerID string) ([]*domain.Device, error)
	// CountActiveByDealer counts the dealer's devices that are not REMOVED.
	CountActiveByDealer(ctx context.Context, dealerID string) (int, error)
	Update(ctx context.Context, deviceID string, mutate Mutator[domain.Device]) (*domain.Device, error)
	Delete(ctx context.Context, deviceID string) error
}

type deviceDoc struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Device
}

func deviceDocID(id string) string {
	return fmt.Sprintf("device:%s", id)
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *deviceRepository) Create(ctx context.Context, device *domain.Device) error {
	db := r.client.DB(r.dbName)

	_, err := db.Put(ctx, deviceDocID(device.ID), deviceDoc{DocType: docTypeDevice, Device: *device})
	if err != nil {
		if isConflict(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create device: %w", err)
	}

	return nil
}

func (r *deviceRepository) FindByID(ctx context.Context, deviceID string) (*domain.Device, error) {
	doc, err := r.get(ctx, r.client.DB(r.dbName), deviceID)
	if err != nil {
		return nil, err
	}
	return &doc.Device, nil
}

func (r *deviceRepository) get(ctx context.Context, db *kivik.DB, deviceID string) (*deviceDoc, error) {
	var doc deviceDoc
	if err := db.Get(ctx, deviceDocID(deviceID)).ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find device: %w", err)
	}
	return &doc, nil
}

func (r *deviceRepository) find(ctx context.Context, selector map[string]interface{}) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	selector["doc_type"] = docTypeDevice
	docs, err := scanAll[deviceDoc](db.Find(ctx, map[string]interface{}{"selector": selector}))
	if err != nil {
		return nil, err
	}

	devices := make([]*domain.Device, 0, len(docs))
	for _, d := range docs {
		devices = append(devices, &d.Device)
	}
	return devices, nil
}

func (r *deviceRepository) FindByCustomerID(ctx context.Context, customerID string) (*domain.Device, error) {
	devices, err := r.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return pickAssigned(devices)
}

func (r *deviceRepository) FindByIMEI(ctx context.Context, imei string) (*domain.Device, error) {
	devices, err := r.find(ctx, map[string]interface{}{"imei1": imei})
	if err != nil {
		return nil, fmt.Errorf("failed to query device by imei: %w", err)
	}
	return pickAssigned(devices)
}

func (r *deviceRepository) ListByCustomer(ctx context.Context, customerID string) ([]*domain.Device, error) {
	devices, err := r.find(ctx, map[string]interface{}{"assignedCustomerId": customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list customer devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) List(ctx context.Context, dealerID string) ([]*domain.Device, error) {
	selector := map[string]interface{}{}
	if dealerID != "" {
		selector["dealerId"] = dealerID
	}
	devices, err := r.find(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

func (r *deviceRepository) CountActiveByDealer(ctx context.Context, dealerID string) (int, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeDevice,
			"dealerId": dealerID,
			"state":    map[string]interface{}{"$ne": domain.DeviceStateRemoved},
		},
		"fields": []string{"_id"},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

func (r *deviceRepository) Update(ctx context.Context, deviceID string, mutate Mutator[domain.Device]) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		doc, err := r.get(ctx, db, deviceID)
		if err != nil {
			return nil, err
		}
		if err := mutate(&doc.Device); err != nil {
			return nil, err
		}
		doc.ID = deviceID

		_, err = db.Put(ctx, deviceDocID(deviceID), doc)
		if err == nil {
			return &doc.Device, nil
		}
		if !isConflict(err) {
			return nil, fmt.Errorf("failed to update device: %w", err)
		}
	}

	return nil, ErrConflict
}

func (r *deviceRepository) Delete(ctx context.Context, deviceID string) error {
	db := r.client.DB(r.dbName)

	doc, err := r.get(ctx, db, deviceID)
	if err != nil {
		return err
	}
	if _, err := db.Delete(ctx, deviceDocID(deviceID), doc.Rev); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// pickAssigned prefers a live device and falls back to the newest record.
func pickAssigned(devices []*domain.Device) (*domain.Device, error) {
	if len(devices) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.After(devices[j].CreatedAt)
	})
	for _, d := range devices {
		if d.Live() {
			return d, nil
		}
	}
	return devices[0], nil
}
