// Package provisioning is the entry point of tenant creation and deletion.
package provisioning

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/pipeline"
	"github.com/surajsub/tenant-provisioner/steps"
	"github.com/surajsub/tenant-provisioner/tenants"
)

const (
	CreatePipeline = "tenant-create"
	DeletePipeline = "tenant-delete"
)

type Service struct {
	manager *tenants.Manager
	configs steps.ConfigRegistry
	logger  *logrus.Logger

	creation *pipeline.Registry[*pipeline.ExecutionContext]
	deletion *pipeline.Registry[*pipeline.DeletionContext]
	creator  *pipeline.Orchestrator[*pipeline.ExecutionContext]
	deleter  *pipeline.Orchestrator[*pipeline.DeletionContext]
}

// NewService builds both pipelines from deps. deps.Tenants and
// deps.Activator default to manager.
func NewService(deps steps.Dependencies, manager *tenants.Manager, observers ...pipeline.Observer) (*Service, error) {
	if deps.Tenants == nil {
		deps.Tenants = manager
	}
	if deps.Activator == nil {
		deps.Activator = manager
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		deps.Logger = logger
	}

	creation, err := steps.NewCreationRegistry(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build creation pipeline: %w", err)
	}
	deletion, err := steps.NewDeletionRegistry(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build deletion pipeline: %w", err)
	}
	return &Service{
		manager:  manager,
		configs:  deps.Configs,
		logger:   logger,
		creation: creation,
		deletion: deletion,
		creator:  pipeline.NewOrchestrator[*pipeline.ExecutionContext](CreatePipeline, logger, observers...),
		deleter:  pipeline.NewOrchestrator[*pipeline.DeletionContext](DeletePipeline, logger, observers...),
	}, nil
}

// Create runs the creation pipeline for tenantID. The returned error covers
// only failures before the pipeline started; step failures are reported in
// the outcome. A run abandoned after registration leaves the tenant FAILED.
func (s *Service) Create(ctx context.Context, runID, tenantID string, data models.StepDataSet) (*pipeline.Outcome, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	release, err := s.manager.Acquire(tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	rc := pipeline.NewExecutionContext(runID, models.NewTenant(tenantID))
	outcome := s.creator.Run(ctx, s.creation.Steps(), data, rc)
	if !outcome.Succeeded() && slices.Contains(outcome.Completed, steps.TenantRegistration) {
		if _, err := s.manager.MarkFailed(ctx, tenantID); err != nil {
			s.logger.WithFields(logrus.Fields{"tenant": tenantID, "run_id": runID}).Errorf("Failed to mark tenant FAILED: %v", err)
		}
	}
	return outcome, nil
}

// Delete runs the deletion pipeline against a snapshot of the tenant's
// configuration taken before the first step.
func (s *Service) Delete(ctx context.Context, runID, tenantID string) (*pipeline.Outcome, error) {
	release, err := s.manager.Acquire(tenantID)
	if err != nil {
		return nil, err
	}
	defer release()

	tenant, err := s.manager.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("%w: %s", tenants.ErrTenantNotFound, tenantID)
	}
	snapshot, err := s.configs.Values(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot configuration of tenant %s: %w", tenantID, err)
	}

	rc := pipeline.NewDeletionContext(runID, *tenant, snapshot)
	return s.deleter.Run(ctx, s.deletion.Steps(), nil, rc), nil
}

// Run dispatches a request to Create or Delete and converts the outcome.
func (s *Service) Run(ctx context.Context, req models.PipelineRequest) (*models.PipelineResult, error) {
	var (
		outcome *pipeline.Outcome
		err     error
	)
	switch req.Action {
	case models.ActionCreate:
		outcome, err = s.Create(ctx, req.RunID, req.TenantID, req.StepData)
	case models.ActionDelete:
		outcome, err = s.Delete(ctx, req.RunID, req.TenantID)
	default:
		return nil, fmt.Errorf("unsupported action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}
	return outcome.Result(req.Action), nil
}

// CreationSteps lists the creation step identifiers in execution order.
func (s *Service) CreationSteps() []string { return s.creation.Identifiers() }

// DeletionSteps lists the deletion step identifiers in execution order.
func (s *Service) DeletionSteps() []string { return s.deletion.Identifiers() }
