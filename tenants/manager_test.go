package tenants

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surajsub/tenant-provisioner/models"
)

func newTestManager(listeners ...ActivationListener) (*Manager, *MemoryStore) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	store := NewMemoryStore()
	return NewManager(store, l, listeners...), store
}

func TestAddNewTenantIsExclusive(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	created, err := m.AddNewTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInactive, created.Status)

	_, err = m.AddNewTenant(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantExists)

	_, err = m.MarkFailed(ctx, "acme")
	require.NoError(t, err)
	_, err = m.AddNewTenant(ctx, "acme")
	assert.ErrorIs(t, err, ErrTenantExists, "a FAILED record still blocks re-registration")
}

func TestAddNewTenantRejectsInvalidID(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.AddNewTenant(context.Background(), "Bad_ID")
	assert.Error(t, err)
}

func TestConcurrentAddNewTenantOnlyOneWins(t *testing.T) {
	m, _ := newTestManager()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		exists int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.AddNewTenant(context.Background(), "acme")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrTenantExists) {
				exists++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, exists)
}

func TestStatusTransitions(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	_, err := m.AddNewTenant(ctx, "acme")
	require.NoError(t, err)

	active, err := m.ActiveTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, active.Status)

	_, err = m.ActiveTenant(ctx, "acme")
	assert.NoError(t, err, "ACTIVE to ACTIVE is allowed")

	_, err = m.MarkFailed(ctx, "acme")
	var tErr *TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, models.StatusActive, tErr.From)

	_, err = m.ActiveTenant(ctx, "ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestActivateBroadcastsToListeners(t *testing.T) {
	var seen []string
	listener := ActivationListenerFunc(func(_ context.Context, tenant models.Tenant) error {
		seen = append(seen, tenant.ID+":"+string(tenant.Status))
		return nil
	})
	m, _ := newTestManager(listener)
	ctx := context.Background()
	_, err := m.AddNewTenant(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, m.Activate(ctx, "acme"))

	assert.Equal(t, []string{"acme:ACTIVE"}, seen)
}

func TestDefaultTenantIsNeverBroadcast(t *testing.T) {
	called := false
	m, store := newTestManager(ActivationListenerFunc(func(context.Context, models.Tenant) error {
		called = true
		return nil
	}))
	ctx := context.Background()

	seeded, err := m.EnsureDefaultTenant(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, seeded.Status)

	require.NoError(t, m.Activate(ctx, models.DefaultTenantID))
	assert.False(t, called)

	got, err := store.Get(ctx, models.DefaultTenantID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestFinishTenantActivationCallsEveryListener(t *testing.T) {
	calls := 0
	failing := ActivationListenerFunc(func(context.Context, models.Tenant) error {
		calls++
		return errors.New("issue tracker down")
	})
	ok := ActivationListenerFunc(func(context.Context, models.Tenant) error {
		calls++
		return nil
	})
	m, _ := newTestManager(failing, ok)

	err := m.FinishTenantActivation(context.Background(), models.Tenant{ID: "acme", Status: models.StatusActive})

	assert.ErrorContains(t, err, "issue tracker down")
	assert.Equal(t, 2, calls)
}

func TestEnsureDefaultTenantIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	_, err := m.EnsureDefaultTenant(ctx)
	require.NoError(t, err)
	_, err = m.EnsureDefaultTenant(ctx)
	require.NoError(t, err)

	all, err := m.ListTenants(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRemoveTenant(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()
	_, err := m.AddNewTenant(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, m.RemoveTenant(ctx, "acme"))
	got, err := m.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, m.RemoveTenant(ctx, "acme"), ErrTenantNotFound)
	assert.ErrorIs(t, m.RemoveTenant(ctx, models.DefaultTenantID), ErrDefaultTenant)
}

func TestAcquireGuardsConcurrentRuns(t *testing.T) {
	m, _ := newTestManager()

	release, err := m.Acquire("acme")
	require.NoError(t, err)

	_, err = m.Acquire("acme")
	assert.ErrorIs(t, err, ErrTenantBusy)

	other, err := m.Acquire("globex")
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := m.Acquire("acme")
	require.NoError(t, err)
	again()
}
