package steps

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/pipeline"
)

// Deletion steps tear resources down in their Execute. Their Rollback only
// records that the resource is left removed: a partially failed deletion is
// reconciled by running the deletion again, not by re-creating resources.

type deletionBase struct {
	base
}

func newDeletionBase(id string, order int, logger *logrus.Logger) deletionBase {
	return deletionBase{base: newBase(id, order, pipeline.PolicyCompensable, logger)}
}

func (b deletionBase) Rollback(_ context.Context, _ *models.StepData, rc *pipeline.DeletionContext) bool {
	b.log(rc).Warn("Deletion step cannot be compensated, resource stays removed")
	return true
}

// ValidateDeletionStep rejects deletion of the default tenant and of
// unknown tenants.
type ValidateDeletionStep struct {
	base
	tenants TenantRegistry
}

func NewValidateDeletionStep(order int, tenants TenantRegistry, logger *logrus.Logger) *ValidateDeletionStep {
	return &ValidateDeletionStep{base: newBase(TenantValidation, order, pipeline.PolicyValidating, logger), tenants: tenants}
}

func (s *ValidateDeletionStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	tenant := rc.Tenant()
	if tenant.IsDefault() {
		return fmt.Errorf("the default tenant cannot be deleted")
	}
	existing, err := s.tenants.GetTenant(ctx, tenant.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("tenant %s does not exist", tenant.ID)
	}
	return nil
}

func (s *ValidateDeletionStep) Rollback(context.Context, *models.StepData, *pipeline.DeletionContext) bool {
	return true
}

type DeleteWorkflowStep struct {
	deletionBase
	engine WorkflowEngine
}

func NewDeleteWorkflowStep(order int, engine WorkflowEngine, logger *logrus.Logger) *DeleteWorkflowStep {
	return &DeleteWorkflowStep{deletionBase: newDeletionBase(WorkflowEngineStep, order, logger), engine: engine}
}

func (s *DeleteWorkflowStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	ns, ok, err := snapshotString(rc, models.ConfigWorkflowNamespace)
	if err != nil {
		return err
	}
	id := rc.Tenant().ID
	if ok {
		if err := s.engine.Undeploy(ctx, id, ns); err != nil {
			return err
		}
	} else {
		s.log(rc).Info("No namespace registered, deprovisioning by tenant id")
	}
	return s.engine.Deprovision(ctx, id)
}

type DeleteGraphStep struct {
	deletionBase
	graph GraphStore
}

func NewDeleteGraphStep(order int, graph GraphStore, logger *logrus.Logger) *DeleteGraphStep {
	return &DeleteGraphStep{deletionBase: newDeletionBase(GraphStoreStep, order, logger), graph: graph}
}

func (s *DeleteGraphStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	// ACTIVE tenants created without patches never registered a prefix.
	_, ok, _ := snapshotString(rc, models.ConfigGraphPrefix)
	if !ok && rc.Tenant().Status == models.StatusActive {
		s.log(rc).Debug("No graph patches registered")
		return nil
	}
	return s.graph.RemovePatches(ctx, rc.Tenant().ID)
}

// datasourceFromSnapshot rebuilds the datasource the creation run
// registered. Values missing for an unfinished tenant fall back to the
// template, which is what the creation run would have provisioned.
func datasourceFromSnapshot(rc *pipeline.DeletionContext, template DatasourceTemplate) (models.DatasourceContext, error) {
	ds := template.For(rc.Tenant().ID)
	schema, ok, err := snapshotString(rc, models.ConfigDatasourceSchema)
	if err != nil {
		return models.DatasourceContext{}, err
	}
	if ok {
		ds.Schema = schema
	}
	role, ok, err := snapshotString(rc, models.ConfigDatasourceRole)
	if err != nil {
		return models.DatasourceContext{}, err
	}
	if ok {
		ds.Role = role
	}
	return ds, nil
}

type DropAuditStep struct {
	deletionBase
	audit    AuditStore
	template DatasourceTemplate
}

func NewDropAuditStep(order int, audit AuditStore, template DatasourceTemplate, logger *logrus.Logger) *DropAuditStep {
	return &DropAuditStep{deletionBase: newDeletionBase(AuditStoreStep, order, logger), audit: audit, template: template}
}

func (s *DropAuditStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	ds, err := datasourceFromSnapshot(rc, s.template)
	if err != nil {
		return err
	}
	return s.audit.Drop(ctx, rc.Tenant().ID, ds)
}

type DropSchemaStep struct {
	deletionBase
	schemas  SchemaProvisioner
	template DatasourceTemplate
}

func NewDropSchemaStep(order int, schemas SchemaProvisioner, template DatasourceTemplate, logger *logrus.Logger) *DropSchemaStep {
	return &DropSchemaStep{deletionBase: newDeletionBase(DatasourceSchema, order, logger), schemas: schemas, template: template}
}

func (s *DropSchemaStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	ds, err := datasourceFromSnapshot(rc, s.template)
	if err != nil {
		return err
	}
	tenant := rc.Tenant()
	return s.schemas.Rollback(ctx, ds, s.template.For(tenant.ID), tenant, tenant.IsDefault())
}

// RemoveConfigurationsStep removes every configuration value registered for
// the tenant.
type RemoveConfigurationsStep struct {
	deletionBase
	configs ConfigRegistry
}

func NewRemoveConfigurationsStep(order int, configs ConfigRegistry, logger *logrus.Logger) *RemoveConfigurationsStep {
	return &RemoveConfigurationsStep{deletionBase: newDeletionBase(Configuration, order, logger), configs: configs}
}

func (s *RemoveConfigurationsStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	id := rc.Tenant().ID
	names, err := s.configs.RegisteredNames(ctx, id)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.configs.RemoveConfiguration(ctx, id, name); err != nil {
			return fmt.Errorf("failed to remove configuration %s: %w", name, err)
		}
	}
	s.log(rc).WithField("removed", len(names)).Info("Configurations removed")
	return nil
}

type RemoveTenantStep struct {
	deletionBase
	tenants TenantRegistry
}

func NewRemoveTenantStep(order int, tenants TenantRegistry, logger *logrus.Logger) *RemoveTenantStep {
	return &RemoveTenantStep{deletionBase: newDeletionBase(TenantRemoval, order, logger), tenants: tenants}
}

func (s *RemoveTenantStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.DeletionContext) error {
	return s.tenants.RemoveTenant(ctx, rc.Tenant().ID)
}
