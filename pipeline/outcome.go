package pipeline

import (
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/surajsub/tenant-provisioner/models"
)

// Outcome is the result of one pipeline run.
type Outcome struct {
	RunID    string
	Pipeline string
	TenantID string

	// Completed lists the steps that succeeded, in completion order.
	Completed  []string
	FailedStep string
	// Err is the first execution error. Compensation failures never replace it.
	Err error

	RolledBack     []string
	RollbackFailed []string
	RollbackErr    *multierror.Error
	// Warnings collects errors swallowed from best-effort steps.
	Warnings *multierror.Error
}

func (o *Outcome) Succeeded() bool {
	return o.Err == nil
}

// Result converts the outcome to its serialisable form.
func (o *Outcome) Result(action models.Action) *models.PipelineResult {
	r := &models.PipelineResult{
		RunID:          o.RunID,
		TenantID:       o.TenantID,
		Action:         action,
		Status:         models.RunSucceeded,
		Completed:      o.Completed,
		FailedStep:     o.FailedStep,
		RolledBack:     o.RolledBack,
		RollbackFailed: o.RollbackFailed,
		FinishedAt:     time.Now().UTC(),
	}
	if o.Err != nil {
		r.Status = models.RunFailed
		r.Error = o.Err.Error()
	}
	if o.Warnings != nil {
		for _, w := range o.Warnings.Errors {
			r.Warnings = append(r.Warnings, w.Error())
		}
	}
	return r
}
