// Package tenants owns tenant records and their status transitions.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
)

var (
	ErrTenantExists   = errors.New("tenant already exists")
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantBusy     = errors.New("tenant has a pipeline run in progress")
	ErrDefaultTenant  = errors.New("operation not permitted on the default tenant")
)

// TransitionError reports a status change the status machine does not allow.
type TransitionError struct {
	TenantID string
	From, To models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("tenant %s cannot move from %s to %s", e.TenantID, e.From, e.To)
}

// ActivationListener is told when a tenant has become ACTIVE.
type ActivationListener interface {
	OnTenantActivated(ctx context.Context, tenant models.Tenant) error
}

type ActivationListenerFunc func(ctx context.Context, tenant models.Tenant) error

func (f ActivationListenerFunc) OnTenantActivated(ctx context.Context, tenant models.Tenant) error {
	return f(ctx, tenant)
}

type Manager struct {
	store     Store
	listeners []ActivationListener
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.Mutex
	locks   map[string]*keyedLock
	running map[string]struct{}
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func NewManager(store Store, logger *logrus.Logger, listeners ...ActivationListener) *Manager {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return &Manager{
		store:     store,
		listeners: listeners,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     map[string]*keyedLock{},
		running:   map[string]struct{}{},
	}
}

// lock serialises status mutations of one tenant id.
func (m *Manager) lock(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyedLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// Acquire reserves id for one pipeline run. It fails with ErrTenantBusy
// while another run holds the id.
func (m *Manager) Acquire(id string) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantBusy, id)
	}
	m.running[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.running, id)
			m.mu.Unlock()
		})
	}, nil
}

// AddNewTenant inserts an INACTIVE record. Any existing record for id,
// whatever its status, makes it fail with ErrTenantExists.
func (m *Manager) AddNewTenant(ctx context.Context, id string) (models.Tenant, error) {
	if err := models.ValidateTenantID(id); err != nil {
		return models.Tenant{}, err
	}
	unlock := m.lock(id)
	defer unlock()

	t := models.NewTenant(id)
	t.CreatedAt, t.UpdatedAt = m.now(), m.now()
	if err := m.store.Create(ctx, t); err != nil {
		if errors.Is(err, ErrTenantExists) {
			return models.Tenant{}, fmt.Errorf("%w: %s", ErrTenantExists, id)
		}
		return models.Tenant{}, fmt.Errorf("failed to create tenant %s: %w", id, err)
	}
	m.logger.WithField("tenant", id).Info("Tenant registered")
	return t, nil
}

// GetTenant returns nil, nil when no record exists.
func (m *Manager) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	t, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", id, err)
	}
	return t, nil
}

func (m *Manager) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	ts, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return ts, nil
}

func (m *Manager) transition(ctx context.Context, id string, to models.Status) (models.Tenant, error) {
	unlock := m.lock(id)
	defer unlock()

	t, err := m.store.Get(ctx, id)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to load tenant %s: %w", id, err)
	}
	if t == nil {
		return models.Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	if !t.Status.CanTransitionTo(to) {
		return *t, &TransitionError{TenantID: id, From: t.Status, To: to}
	}
	now := m.now()
	if err := m.store.UpdateStatus(ctx, id, to, now); err != nil {
		return *t, fmt.Errorf("failed to update tenant %s: %w", id, err)
	}
	m.logger.WithFields(logrus.Fields{"tenant": id, "from": t.Status, "to": to}).Info("Tenant status changed")
	t.Status, t.UpdatedAt = to, now
	return *t, nil
}

// ActiveTenant moves the tenant to ACTIVE. Activating an ACTIVE tenant is a
// no-op transition.
func (m *Manager) ActiveTenant(ctx context.Context, id string) (models.Tenant, error) {
	return m.transition(ctx, id, models.StatusActive)
}

// MarkFailed records that a creation run was abandoned after rollback.
func (m *Manager) MarkFailed(ctx context.Context, id string) (models.Tenant, error) {
	return m.transition(ctx, id, models.StatusFailed)
}

// FinishTenantActivation notifies every ActivationListener. The default
// tenant is never broadcast. Every listener is called; their errors are
// combined.
func (m *Manager) FinishTenantActivation(ctx context.Context, tenant models.Tenant) error {
	if tenant.IsDefault() {
		m.logger.WithField("tenant", tenant.ID).Debug("Skipping activation broadcast for default tenant")
		return nil
	}
	var result *multierror.Error
	for _, l := range m.listeners {
		if err := l.OnTenantActivated(ctx, tenant); err != nil {
			m.logger.WithField("tenant", tenant.ID).Warnf("Activation listener failed: %v", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Activate is ActiveTenant followed by FinishTenantActivation.
func (m *Manager) Activate(ctx context.Context, id string) error {
	t, err := m.ActiveTenant(ctx, id)
	if err != nil {
		return err
	}
	return m.FinishTenantActivation(ctx, t)
}

// RemoveTenant deletes the record. The default tenant cannot be removed.
func (m *Manager) RemoveTenant(ctx context.Context, id string) error {
	if id == models.DefaultTenantID {
		return ErrDefaultTenant
	}
	unlock := m.lock(id)
	defer unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
		}
		return fmt.Errorf("failed to delete tenant %s: %w", id, err)
	}
	m.logger.WithField("tenant", id).Info("Tenant removed")
	return nil
}

// EnsureDefaultTenant seeds the default tenant as ACTIVE and repairs its
// status if it drifted.
func (m *Manager) EnsureDefaultTenant(ctx context.Context) (models.Tenant, error) {
	id := models.DefaultTenantID
	unlock := m.lock(id)
	defer unlock()

	t, err := m.store.Get(ctx, id)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to load default tenant: %w", err)
	}
	now := m.now()
	if t == nil {
		seeded := models.Tenant{ID: id, Status: models.StatusActive, CreatedAt: now, UpdatedAt: now}
		if err := m.store.Create(ctx, seeded); err != nil && !errors.Is(err, ErrTenantExists) {
			return models.Tenant{}, fmt.Errorf("failed to seed default tenant: %w", err)
		}
		m.logger.WithField("tenant", id).Info("Default tenant seeded")
		return seeded, nil
	}
	if t.Status != models.StatusActive {
		if err := m.store.UpdateStatus(ctx, id, models.StatusActive, now); err != nil {
			return *t, fmt.Errorf("failed to activate default tenant: %w", err)
		}
		t.Status, t.UpdatedAt = models.StatusActive, now
	}
	return *t, nil
}
