// Package pipeline runs ordered tenant lifecycle steps and compensates the
// completed ones, in reverse completion order, when a step fails.
package pipeline

import (
	"context"

	"github.com/surajsub/tenant-provisioner/models"
)

// Policy tells the orchestrator how to treat a step's failure.
type Policy int

const (
	// PolicyCompensable steps perform side effects. A failure halts the run
	// and compensates every completed step.
	PolicyCompensable Policy = iota
	// PolicyValidating steps check preconditions without touching external
	// state. Their rollback is a no-op and they must run before any other step.
	PolicyValidating
	// PolicyBestEffort steps never fail the run. An execution error is logged
	// and reported as a warning on the outcome.
	PolicyBestEffort
)

func (p Policy) String() string {
	switch p {
	case PolicyCompensable:
		return "compensable"
	case PolicyValidating:
		return "validating"
	case PolicyBestEffort:
		return "best-effort"
	default:
		return "unknown"
	}
}

// RunContext is implemented by the per-run state shared between steps.
type RunContext interface {
	RunID() string
	Tenant() models.Tenant
}

// Step is one unit of provisioning or deprovisioning work.
//
// Execute is called at most once per run. Rollback is only called for steps
// whose Execute succeeded; it must tolerate partially applied effects and
// report, rather than panic on, its own failure.
type Step[C RunContext] interface {
	Identifier() string
	Order() int
	Policy() Policy
	Execute(ctx context.Context, data *models.StepData, rc C) error
	Rollback(ctx context.Context, data *models.StepData, rc C) bool
}

type (
	CreationStep = Step[*ExecutionContext]
	DeletionStep = Step[*DeletionContext]
)
