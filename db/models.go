package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type TenantRow struct {
	ID        string `gorm:"primaryKey"`
	Status    string `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TenantRow) TableName() string { return "tenants" }

type ConfigValueRow struct {
	TenantID  string `gorm:"primaryKey"`
	Name      string `gorm:"primaryKey"`
	Value     datatypes.JSON
	CreatedAt time.Time
}

func (ConfigValueRow) TableName() string { return "tenant_configurations" }

// PipelineRun is one submitted creation or deletion.
type PipelineRun struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       string    `gorm:"index"`
	Action         string
	Submitter      string
	WorkflowID     string
	WorkflowRunID  string
	Status         string // PENDING, RUNNING, SUCCESS, FAILED
	FailedStep     string
	Error          string
	RolledBack     pq.StringArray `gorm:"type:text[]"`
	RollbackFailed pq.StringArray `gorm:"type:text[]"`
	Warnings       pq.StringArray `gorm:"type:text[]"`
	Result         datatypes.JSON
	CreatedAt      time.Time
	FinishedAt     *time.Time
	Steps          []PipelineRunStep `gorm:"foreignKey:RunID"`
}

type PipelineRunStep struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID         uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_run_step"`
	StepID        string    `gorm:"uniqueIndex:idx_run_step"`
	Status        string
	Error         string
	LastUpdatedAt time.Time
}
