package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"emilock-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customer(id, imei string) *domain.Customer {
	now := time.Now()
	return &domain.Customer{ID: id, DealerID: "dealer-1", IMEI1: imei, CreatedAt: now, UpdatedAt: now}
}

func TestMemoryCustomers_IMEIUniqueUnderConcurrency(t *testing.T) {
	repo := NewMemoryStore().Customers()
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- repo.Create(ctx, customer(fmt.Sprintf("c-%d", i), "356938035643809"))
		}(i)
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrDuplicateIMEI)
	}
	assert.Equal(t, 1, created)

	owner, err := repo.FindByIMEI(ctx, "356938035643809")
	require.NoError(t, err)
	assert.Equal(t, "356938035643809", owner.IMEI1)
}

func TestMemoryCustomers_UpdateMovesIMEIClaim(t *testing.T) {
	repo := NewMemoryStore().Customers()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, customer("a", "111111111111111")))
	require.NoError(t, repo.Create(ctx, customer("b", "222222222222222")))

	_, err := repo.Update(ctx, "a", func(c *domain.Customer) error {
		c.IMEI1 = "222222222222222"
		return nil
	})
	assert.ErrorIs(t, err, ErrDuplicateIMEI)

	_, err = repo.Update(ctx, "a", func(c *domain.Customer) error {
		c.IMEI1 = "333333333333333"
		return nil
	})
	require.NoError(t, err)

	// The old IMEI is released.
	require.NoError(t, repo.Create(ctx, customer("c", "111111111111111")))

	require.NoError(t, repo.Delete(ctx, "a"))
	require.NoError(t, repo.Create(ctx, customer("d", "333333333333333")))
}

func TestMemoryCustomers_UpdateIsAtomic(t *testing.T) {
	repo := NewMemoryStore().Customers()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, customer("a", "")))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "a", func(c *domain.Customer) error {
				c.LockHistory = append(c.LockHistory, domain.LockEvent{Action: domain.LockActionLock})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, got.LockHistory, writers)
}

func TestMemoryCustomers_MutatorErrorAborts(t *testing.T) {
	repo := NewMemoryStore().Customers()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, customer("a", "")))

	boom := errors.New("boom")
	_, err := repo.Update(ctx, "a", func(c *domain.Customer) error {
		c.Name = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got.Name)

	_, err = repo.Update(ctx, "missing", func(c *domain.Customer) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCustomers_ReadsAreCopies(t *testing.T) {
	repo := NewMemoryStore().Customers()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, customer("a", "")))

	first, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	first.Name = "mutated outside"

	second, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, second.Name)
}

func TestMemoryDevices_CountAndPick(t *testing.T) {
	repo := NewMemoryStore().Devices()
	ctx := context.Background()
	owner := "cust-1"
	base := time.Now()

	devices := []*domain.Device{
		{ID: "old", DealerID: "dealer-1", State: domain.DeviceStateRemoved, AssignedCustomerID: &owner, CreatedAt: base},
		{ID: "new", DealerID: "dealer-1", State: domain.DeviceStateActive, AssignedCustomerID: &owner, CreatedAt: base.Add(time.Minute)},
		{ID: "spare", DealerID: "dealer-1", State: domain.DeviceStateUnassigned, CreatedAt: base},
		{ID: "theirs", DealerID: "dealer-2", State: domain.DeviceStateActive, CreatedAt: base},
	}
	for _, d := range devices {
		require.NoError(t, repo.Create(ctx, d))
	}
	assert.ErrorIs(t, repo.Create(ctx, devices[0]), ErrAlreadyExists)

	count, err := repo.CountActiveByDealer(ctx, "dealer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	picked, err := repo.FindByCustomerID(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "new", picked.ID)

	listed, err := repo.List(ctx, "dealer-2")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = repo.FindByCustomerID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryAudit_NewestFirst(t *testing.T) {
	repo := NewMemoryStore().Audit()
	ctx := context.Background()

	for i, id := range []string{"01A", "01C", "01B"} {
		require.NoError(t, repo.Append(ctx, &domain.AuditLog{
			ID:       id,
			DealerID: "dealer-1",
			TargetID: fmt.Sprintf("t-%d", i),
			Action:   "customer.create",
		}))
	}

	entries, err := repo.List(ctx, domain.AuditFilter{DealerID: "dealer-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "01C", entries[0].ID)
	assert.Equal(t, "01B", entries[1].ID)
}

func TestMemoryCustomers_ExpectedIMEIPicksDeterministically(t *testing.T) {
	repo := NewMemoryStore().Customers()
	ctx := context.Background()
	base := time.Now()

	seed := []struct {
		id       string
		age      time.Duration
		enrolled bool
	}{
		{id: "enrolled-oldest", age: 3 * time.Hour, enrolled: true},
		{id: "waiting-newer", age: time.Hour},
		{id: "waiting-older", age: 2 * time.Hour},
	}
	for _, s := range seed {
		c := customer(s.id, "")
		c.ExpectedIMEI = "356938035643809"
		c.IsEnrolled = s.enrolled
		c.CreatedAt = base.Add(-s.age)
		require.NoError(t, repo.Create(ctx, c))
	}

	for i := 0; i < 20; i++ {
		got, err := repo.FindByIMEI(ctx, "356938035643809")
		require.NoError(t, err)
		assert.Equal(t, "waiting-older", got.ID)
	}
}
