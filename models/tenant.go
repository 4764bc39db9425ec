package models

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultTenantID is the platform's own tenant. It is always active and is
// never pushed through the activation broadcast.
const DefaultTenantID = "default"

var tenantIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,47}$`)

// ValidateTenantID rejects ids that cannot be used to derive schema,
// namespace and object key names.
func ValidateTenantID(id string) error {
	if !tenantIDPattern.MatchString(id) {
		return fmt.Errorf("invalid tenant id %q: must match %s", id, tenantIDPattern)
	}
	return nil
}

type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusFailed   Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusInactive: {StatusActive, StatusFailed},
	StatusActive:   {StatusActive},
	StatusFailed:   {},
}

// CanTransitionTo reports whether a tenant in status s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Tenant is the identity and lifecycle state of one isolated environment.
type Tenant struct {
	ID        string    `json:"tenant_id" yaml:"tenant_id"`
	Status    Status    `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// NewTenant returns a tenant in the initial INACTIVE state.
func NewTenant(id string) Tenant {
	now := time.Now().UTC()
	return Tenant{
		ID:        id,
		Status:    StatusInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (t Tenant) IsDefault() bool {
	return t.ID == DefaultTenantID
}

func (t Tenant) String() string {
	return fmt.Sprintf("%s (%s)", t.ID, t.Status)
}
