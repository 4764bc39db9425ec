package steps

import (
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/pipeline"
)

// Dependencies are the subsystems the built-in steps drive.
type Dependencies struct {
	Tenants    TenantRegistry
	Activator  Activator
	Schemas    SchemaProvisioner
	Audit      AuditStore
	Workflows  WorkflowEngine
	Graph      GraphStore
	Configs    ConfigRegistry
	Datasource DatasourceTemplate
	Logger     *logrus.Logger
}

// NewCreationRegistry returns the creation pipeline:
// validate, register, schema, audit, workflow, graph, configuration, finalize.
func NewCreationRegistry(d Dependencies) (*pipeline.Registry[*pipeline.ExecutionContext], error) {
	return pipeline.NewRegistry[*pipeline.ExecutionContext](
		NewValidateTenantStep(0, d.Tenants, d.Logger),
		NewRegisterTenantStep(10, d.Tenants, d.Logger),
		NewSchemaStep(20, d.Schemas, d.Datasource, d.Logger),
		NewAuditStep(30, d.Audit, d.Logger),
		NewWorkflowStep(40, d.Workflows, d.Logger),
		NewGraphStep(50, d.Graph, d.Logger),
		NewConfigurationStep(60, d.Configs, d.Graph, d.Logger),
		NewFinalizeStep(100, d.Activator, d.Logger),
	)
}

// NewDeletionRegistry returns the deletion pipeline, tearing subsystems down
// in the reverse of their creation order.
func NewDeletionRegistry(d Dependencies) (*pipeline.Registry[*pipeline.DeletionContext], error) {
	return pipeline.NewRegistry[*pipeline.DeletionContext](
		NewValidateDeletionStep(0, d.Tenants, d.Logger),
		NewDeleteGraphStep(10, d.Graph, d.Logger),
		NewDeleteWorkflowStep(20, d.Workflows, d.Logger),
		NewDropAuditStep(30, d.Audit, d.Datasource, d.Logger),
		NewDropSchemaStep(40, d.Schemas, d.Datasource, d.Logger),
		NewRemoveConfigurationsStep(50, d.Configs, d.Logger),
		NewRemoveTenantStep(100, d.Tenants, d.Logger),
	)
}
