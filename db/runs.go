package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/pipeline"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRunNotFound = errors.New("pipeline run not found")

// RunStore persists pipeline runs and their per-step progress.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(gdb *gorm.DB) *RunStore {
	return &RunStore{db: gdb}
}

func (s *RunStore) CreateRun(ctx context.Context, run *PipelineRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = string(models.RunPending)
	}
	return s.db.WithContext(ctx).Create(run).Error
}

// AttachWorkflow records the workflow execution serving the run.
func (s *RunStore) AttachWorkflow(ctx context.Context, runID uuid.UUID, workflowID, workflowRunID string) error {
	return s.update(ctx, runID, map[string]any{
		"workflow_id":     workflowID,
		"workflow_run_id": workflowRunID,
	})
}

func (s *RunStore) MarkRunning(ctx context.Context, runID uuid.UUID) error {
	return s.update(ctx, runID, map[string]any{"status": string(models.RunRunning)})
}

// FinishRun stores the final result. A nil result with a non-nil cause
// records a run that failed before any step started.
func (s *RunStore) FinishRun(ctx context.Context, runID uuid.UUID, result *models.PipelineResult, cause error) error {
	now := time.Now().UTC()
	fields := map[string]any{"finished_at": now}
	if result == nil {
		fields["status"] = string(models.RunFailed)
		if cause != nil {
			fields["error"] = cause.Error()
		}
		return s.update(ctx, runID, fields)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}
	fields["status"] = string(result.Status)
	fields["failed_step"] = result.FailedStep
	fields["error"] = result.Error
	fields["rolled_back"] = pq.StringArray(result.RolledBack)
	fields["rollback_failed"] = pq.StringArray(result.RollbackFailed)
	fields["warnings"] = pq.StringArray(result.Warnings)
	fields["result"] = datatypes.JSON(raw)
	return s.update(ctx, runID, fields)
}

func (s *RunStore) update(ctx context.Context, runID uuid.UUID, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&PipelineRun{}).Where("id = ?", runID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (*PipelineRun, error) {
	var run PipelineRun
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("last_updated_at") }).
		First(&run, "id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RecordStep upserts the latest status of one step of a run.
func (s *RunStore) RecordStep(ctx context.Context, runID uuid.UUID, stepID, status, errMsg string) error {
	row := PipelineRunStep{
		ID:            uuid.New(),
		RunID:         runID,
		StepID:        stepID,
		Status:        status,
		Error:         errMsg,
		LastUpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "step_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "error", "last_updated_at"}),
	}).Create(&row).Error
}

// RunRecorder is a pipeline.Observer writing step transitions to a RunStore.
type RunRecorder struct {
	store   *RunStore
	logger  *logrus.Logger
	timeout time.Duration
}

func NewRunRecorder(store *RunStore, logger *logrus.Logger) *RunRecorder {
	return &RunRecorder{store: store, logger: logger, timeout: 5 * time.Second}
}

func (r *RunRecorder) Observe(e pipeline.Event) {
	if e.Kind == pipeline.RunFinished || e.Step == "" {
		return
	}
	runID, err := uuid.Parse(e.RunID)
	if err != nil {
		r.logger.WithField("run_id", e.RunID).Warn("Run id is not a UUID, step not recorded")
		return
	}
	errMsg := ""
	if e.Err != nil {
		errMsg = e.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.RecordStep(ctx, runID, e.Step, string(e.Kind), errMsg); err != nil {
		r.logger.WithFields(logrus.Fields{"run_id": e.RunID, "step": e.Step}).Errorf("Failed to record step: %v", err)
	}
}
