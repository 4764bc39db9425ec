package workflows

import (
	"fmt"
	"time"

	"github.com/surajsub/tenant-provisioner/activities"
	"github.com/surajsub/tenant-provisioner/models"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// StatusQuery returns the run status while the workflow is open.
const StatusQuery = "pipeline_status"

// TenantPipelineWorkflow runs one tenant lifecycle request as a single
// activity. Steps are not safe to re-run, so the activity is attempted once.
func TenantPipelineWorkflow(ctx workflow.Context, req models.PipelineRequest) (*models.PipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting tenant pipeline", "tenant", req.TenantID, "action", req.Action, "run_id", req.RunID)

	status := models.RunRunning
	if err := workflow.SetQueryHandler(ctx, StatusQuery, func() (models.RunStatus, error) {
		return status, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register status query: %w", err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	var a *activities.Activities
	var result models.PipelineResult
	if err := workflow.ExecuteActivity(ctx, a.RunPipeline, req).Get(ctx, &result); err != nil {
		status = models.RunFailed
		logger.Error("Tenant pipeline did not run", "tenant", req.TenantID, "error", err)
		return nil, fmt.Errorf("tenant pipeline %s for %s: %w", req.Action, req.TenantID, err)
	}

	status = result.Status
	logger.Info("Tenant pipeline finished", "tenant", req.TenantID, "status", result.Status, "failed_step", result.FailedStep)
	return &result, nil
}
