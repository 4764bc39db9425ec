package models

import "time"

type Action string

const (
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCESS"
	RunFailed    RunStatus = "FAILED"
)

// PipelineRequest is the workflow input for one tenant lifecycle operation.
type PipelineRequest struct {
	RunID     string      `json:"run_id"`
	TenantID  string      `json:"tenant_id"`
	Action    Action      `json:"action"`
	Submitter string      `json:"submitter,omitempty"`
	StepData  StepDataSet `json:"step_data,omitempty"`
}

// PipelineResult is the serialisable form of a pipeline outcome.
type PipelineResult struct {
	RunID          string    `json:"run_id"`
	TenantID       string    `json:"tenant_id"`
	Action         Action    `json:"action"`
	Status         RunStatus `json:"status"`
	Completed      []string  `json:"completed,omitempty"`
	FailedStep     string    `json:"failed_step,omitempty"`
	Error          string    `json:"error,omitempty"`
	RolledBack     []string  `json:"rolled_back,omitempty"`
	RollbackFailed []string  `json:"rollback_failed,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
	FinishedAt     time.Time `json:"finished_at"`
}
