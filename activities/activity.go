package activities

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// ErrorTypeRejected marks a request the pipeline refused to start.
const ErrorTypeRejected = "PipelineRejected"

// Pipeline runs one tenant lifecycle request.
type Pipeline interface {
	Run(ctx context.Context, req models.PipelineRequest) (*models.PipelineResult, error)
}

// RunTracker persists the progress of a run.
type RunTracker interface {
	MarkRunning(ctx context.Context, runID uuid.UUID) error
	FinishRun(ctx context.Context, runID uuid.UUID, result *models.PipelineResult, cause error) error
}

// Activities is registered on the worker as a whole; its exported methods
// are the activities.
type Activities struct {
	Pipeline Pipeline
	Runs     RunTracker
	Logger   *logrus.Logger
}

// RunPipeline runs the request to completion. A failed pipeline is a
// successful activity carrying a FAILED result; only a request the pipeline
// refused outright fails the activity, and never retryably.
func (a *Activities) RunPipeline(ctx context.Context, req models.PipelineRequest) (*models.PipelineResult, error) {
	logger := a.activityLogger(ctx, req)
	defer func() {
		if err := req.StepData.Cleanup(); err != nil {
			logger.Warnf("Failed to remove scratch files: %v", err)
		}
	}()

	activity.RecordHeartbeat(ctx, fmt.Sprintf("running %s for tenant %s", req.Action, req.TenantID))

	runID, parseErr := uuid.Parse(req.RunID)
	track := a.Runs != nil && parseErr == nil
	if track {
		if err := a.Runs.MarkRunning(ctx, runID); err != nil {
			logger.Errorf("Failed to mark run as running: %v", err)
		}
	}

	result, err := a.Pipeline.Run(ctx, req)

	if track {
		if ferr := a.Runs.FinishRun(ctx, runID, result, err); ferr != nil {
			logger.Errorf("Failed to store run result: %v", ferr)
		}
	}
	if err != nil {
		logger.Errorf("Pipeline rejected: %v", err)
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrorTypeRejected, err)
	}
	logger.WithField("status", result.Status).Info("Pipeline finished")
	return result, nil
}

func (a *Activities) activityLogger(ctx context.Context, req models.PipelineRequest) *logrus.Entry {
	base := a.Logger
	if base == nil {
		base = logrus.New()
		base.SetFormatter(&logrus.JSONFormatter{})
		base.Warn("Using fallback logger as no logger was passed")
	}
	info := activity.GetInfo(ctx)
	return base.WithFields(logrus.Fields{
		"workflow_id": info.WorkflowExecution.ID,
		"run_id":      req.RunID,
		"tenant":      req.TenantID,
		"action":      req.Action,
	})
}
