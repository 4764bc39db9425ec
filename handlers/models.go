package handlers

import (
	"time"

	"github.com/surajsub/tenant-provisioner/db"
	"github.com/surajsub/tenant-provisioner/models"
)

// SubmissionResponse acknowledges an accepted pipeline request.
type SubmissionResponse struct {
	RunID       string        `json:"run_id"`
	TenantID    string        `json:"tenant_id"`
	Action      models.Action `json:"action"`
	Submitter   string        `json:"submitted_by,omitempty"`
	WorkflowID  string        `json:"workflow_id"`
	SubmittedAt time.Time     `json:"submission_time"`
}

// WorkflowStatus is the Temporal view of a run.
type WorkflowStatus struct {
	WorkflowID string     `json:"workflow_id"`
	RunID      string     `json:"run_id"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	CloseTime  *time.Time `json:"close_time,omitempty"`
	Duration   string     `json:"duration"`
}

type StepRecord struct {
	StepID        string    `json:"step_id"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

type RunResponse struct {
	RunID          string          `json:"run_id"`
	TenantID       string          `json:"tenant_id"`
	Action         string          `json:"action"`
	Submitter      string          `json:"submitted_by,omitempty"`
	Status         string          `json:"status"`
	FailedStep     string          `json:"failed_step,omitempty"`
	Error          string          `json:"error,omitempty"`
	RolledBack     []string        `json:"rolled_back,omitempty"`
	RollbackFailed []string        `json:"rollback_failed,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	Steps          []StepRecord    `json:"steps"`
	Workflow       *WorkflowStatus `json:"workflow,omitempty"`
	TemporalOnline bool            `json:"temporal_online"`
}

func newRunResponse(run *db.PipelineRun) RunResponse {
	resp := RunResponse{
		RunID:          run.ID.String(),
		TenantID:       run.TenantID,
		Action:         run.Action,
		Submitter:      run.Submitter,
		Status:         run.Status,
		FailedStep:     run.FailedStep,
		Error:          run.Error,
		RolledBack:     run.RolledBack,
		RollbackFailed: run.RollbackFailed,
		Warnings:       run.Warnings,
		CreatedAt:      run.CreatedAt,
		FinishedAt:     run.FinishedAt,
		Steps:          make([]StepRecord, 0, len(run.Steps)),
	}
	for _, s := range run.Steps {
		resp.Steps = append(resp.Steps, StepRecord{
			StepID:        s.StepID,
			Status:        s.Status,
			Error:         s.Error,
			LastUpdatedAt: s.LastUpdatedAt,
		})
	}
	return resp
}
