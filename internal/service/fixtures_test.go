package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"emilock-server/internal/domain"
	"emilock-server/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publishedEvent struct {
	dealerID string
	event    string
	payload  interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *recordingNotifier) Publish(dealerID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{dealerID: dealerID, event: event, payload: payload})
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, e := range n.events {
		if e.event == event {
			total++
		}
	}
	return total
}

// fleet wires every service against one in-memory store.
type fleet struct {
	store       *repository.MemoryStore
	notifier    *recordingNotifier
	guard       *QuotaGuard
	audit       *AuditService
	admins      *AdminService
	customers   *CustomerService
	devices     *DeviceService
	commands    *CommandService
	enrollment  *EnrollmentService
	heartbeats  *HeartbeatService
	reconciler  *ReconcileService
	super       *domain.AdminUser
	dealer      *domain.AdminUser
	otherDealer *domain.AdminUser
}

func newFleet(t *testing.T) *fleet {
	t.Helper()

	store := repository.NewMemoryStore()
	log := zap.NewNop()
	notifier := &recordingNotifier{}

	guard := NewQuotaGuard(store.Devices(), log)
	audit := NewAuditService(store.Audit(), log)

	f := &fleet{
		store:      store,
		notifier:   notifier,
		guard:      guard,
		audit:      audit,
		admins:     NewAdminService(store.Admins(), guard, audit, log),
		customers:  NewCustomerService(store.Customers(), store.Devices(), guard, audit, log, 72*time.Hour, 2*time.Minute),
		devices:    NewDeviceService(store.Devices(), store.Customers(), guard, audit, log, 72*time.Hour),
		commands:   NewCommandService(store.Customers(), store.Devices(), audit, notifier, log),
		enrollment: NewEnrollmentService(store.Customers(), store.Devices(), audit, notifier, log),
		heartbeats: NewHeartbeatService(store.Customers(), store.Devices(), audit, notifier, log),
		reconciler: NewReconcileService(store.Customers(), store.Devices(), log),
	}

	f.super = f.addAdmin(t, "root", domain.RoleSuperAdmin, 0)
	f.dealer = f.addAdmin(t, "dealer-a", domain.RoleAdmin, 5)
	f.otherDealer = f.addAdmin(t, "dealer-b", domain.RoleAdmin, 5)
	return f
}

func (f *fleet) addAdmin(t *testing.T, id string, role domain.Role, limit int) *domain.AdminUser {
	t.Helper()
	admin := &domain.AdminUser{
		ID:          id,
		Username:    id,
		Email:       id + "@example.com",
		Role:        role,
		DeviceLimit: limit,
	}
	require.NoError(t, f.store.Admins().Create(context.Background(), admin))
	return admin
}

func (f *fleet) newCustomer(t *testing.T, actor *domain.AdminUser, imei string) *domain.Customer {
	t.Helper()
	c, err := f.customers.Create(context.Background(), actor, &domain.CreateCustomerRequest{
		Name:        "Customer " + imei,
		Phone:       "9876543210",
		IMEI1:       imei,
		MobileModel: "Galaxy A15",
	})
	require.NoError(t, err)
	return c
}

// enroll runs the authoritative callback for c with the token it was
// created with.
func (f *fleet) enroll(t *testing.T, c *domain.Customer) *domain.EnrollmentResponse {
	t.Helper()
	resp, err := f.enrollment.Enroll(context.Background(), &domain.EnrollmentRequest{
		CustomerID:      c.ID,
		EnrollmentToken: c.EnrollmentToken,
		Brand:           "Samsung",
		Model:           "SM-A155F",
		AndroidVersion:  "14",
		SDKInt:          34,
		IMEI:            c.IMEI1,
	})
	require.NoError(t, err)
	return resp
}

func (f *fleet) liveDevice(t *testing.T, customerID string) *domain.Device {
	t.Helper()
	d, err := f.store.Devices().FindByCustomerID(context.Background(), customerID)
	require.NoError(t, err)
	return d
}

func (f *fleet) customer(t *testing.T, id string) *domain.Customer {
	t.Helper()
	c, err := f.store.Customers().FindByID(context.Background(), id)
	require.NoError(t, err)
	return c
}
