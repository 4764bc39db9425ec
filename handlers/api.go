package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/db"
	"github.com/surajsub/tenant-provisioner/ingest"
	"github.com/surajsub/tenant-provisioner/models"
)

// TenantReader looks up tenant records.
type TenantReader interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ListTenants(ctx context.Context) ([]models.Tenant, error)
}

// RunRepository persists submitted pipeline runs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *db.PipelineRun) error
	AttachWorkflow(ctx context.Context, runID uuid.UUID, workflowID, workflowRunID string) error
	FinishRun(ctx context.Context, runID uuid.UUID, result *models.PipelineResult, cause error) error
	GetRun(ctx context.Context, runID uuid.UUID) (*db.PipelineRun, error)
}

// Dispatcher hands pipeline requests to the workflow engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.PipelineRequest) (workflowID, workflowRunID string, err error)
	Describe(ctx context.Context, workflowID, workflowRunID string) (*WorkflowStatus, error)
}

type Handler struct {
	Tenants    TenantReader
	Runs       RunRepository
	Dispatcher Dispatcher
	Ingester   *ingest.Ingester
	Logger     *logrus.Logger
}

// RegisterRoutes mounts the API. gatherer backs /metrics when non-nil.
func RegisterRoutes(e *echo.Echo, h *Handler, gatherer prometheus.Gatherer) {
	v1 := e.Group("/v1")
	v1.POST("/tenants", h.CreateTenant)
	v1.GET("/tenants", h.ListTenants)
	v1.GET("/tenants/:tenant_id", h.GetTenant)
	v1.DELETE("/tenants/:tenant_id", h.DeleteTenant)
	v1.GET("/runs/:run_id", h.GetRun)

	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}
