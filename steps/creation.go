package steps

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/pipeline"
)

var (
	ErrTenantActive       = errors.New("tenant is already active")
	ErrTenantRecordExists = errors.New("tenant record already exists")
	ErrNoDatasource       = errors.New("no datasource published for this run")
)

// ValidateTenantStep rejects a creation run for a tenant that already has
// a record.
type ValidateTenantStep struct {
	base
	tenants TenantRegistry
}

func NewValidateTenantStep(order int, tenants TenantRegistry, logger *logrus.Logger) *ValidateTenantStep {
	return &ValidateTenantStep{base: newBase(TenantValidation, order, pipeline.PolicyValidating, logger), tenants: tenants}
}

func (s *ValidateTenantStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) error {
	id := rc.Tenant().ID
	if err := models.ValidateTenantID(id); err != nil {
		return err
	}
	existing, err := s.tenants.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.Status == models.StatusActive {
		return fmt.Errorf("%w: %s", ErrTenantActive, id)
	}
	return fmt.Errorf("%w: %s is %s and must be deleted first", ErrTenantRecordExists, id, existing.Status)
}

func (s *ValidateTenantStep) Rollback(context.Context, *models.StepData, *pipeline.ExecutionContext) bool {
	return true
}

// RegisterTenantStep inserts the INACTIVE tenant record. Its rollback keeps
// the record so the run can be reported as FAILED.
type RegisterTenantStep struct {
	base
	tenants TenantRegistry
}

func NewRegisterTenantStep(order int, tenants TenantRegistry, logger *logrus.Logger) *RegisterTenantStep {
	return &RegisterTenantStep{base: newBase(TenantRegistration, order, pipeline.PolicyCompensable, logger), tenants: tenants}
}

func (s *RegisterTenantStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) error {
	_, err := s.tenants.AddNewTenant(ctx, rc.Tenant().ID)
	return err
}

func (s *RegisterTenantStep) Rollback(_ context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) bool {
	s.log(rc).Info("Keeping tenant record for failure reporting")
	return true
}

// SchemaStep creates the tenant's schema and role and publishes the
// resulting datasource.
type SchemaStep struct {
	base
	schemas  SchemaProvisioner
	template DatasourceTemplate
}

func NewSchemaStep(order int, schemas SchemaProvisioner, template DatasourceTemplate, logger *logrus.Logger) *SchemaStep {
	return &SchemaStep{base: newBase(DatasourceSchema, order, pipeline.PolicyCompensable, logger), schemas: schemas, template: template}
}

func (s *SchemaStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) error {
	tenant := rc.Tenant()
	desired := s.template.For(tenant.ID)
	actual, err := s.schemas.Provision(ctx, tenant, desired)
	if err != nil {
		// The failed step is not on the completed stack, so undo the
		// partial work here.
		if rbErr := s.schemas.Rollback(ctx, actual, desired, tenant, tenant.IsDefault()); rbErr != nil {
			s.log(rc).Warnf("Failed to clean up partial schema: %v", rbErr)
		}
		return err
	}
	rc.Datasource = &actual
	s.log(rc).WithFields(logrus.Fields{"schema": actual.Schema, "role": actual.Role}).Info("Datasource provisioned")
	return nil
}

func (s *SchemaStep) Rollback(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) bool {
	tenant := rc.Tenant()
	desired := s.template.For(tenant.ID)
	actual := desired
	if rc.Datasource != nil {
		actual = *rc.Datasource
	}
	if err := s.schemas.Rollback(ctx, actual, desired, tenant, tenant.IsDefault()); err != nil {
		s.log(rc).Errorf("Failed to roll back datasource: %v", err)
		return false
	}
	rc.Datasource = nil
	return true
}

// AuditStep creates the audit store inside the published datasource.
type AuditStep struct {
	base
	audit AuditStore
}

func NewAuditStep(order int, audit AuditStore, logger *logrus.Logger) *AuditStep {
	return &AuditStep{base: newBase(AuditStoreStep, order, pipeline.PolicyCompensable, logger), audit: audit}
}

func (s *AuditStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) error {
	if rc.Datasource == nil {
		return ErrNoDatasource
	}
	return s.audit.Provision(ctx, rc.Tenant().ID, *rc.Datasource)
}

func (s *AuditStep) Rollback(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) bool {
	if rc.Datasource == nil {
		return true
	}
	if err := s.audit.Drop(ctx, rc.Tenant().ID, *rc.Datasource); err != nil {
		s.log(rc).Errorf("Failed to drop audit store: %v", err)
		return false
	}
	return true
}

// WorkflowStep provisions the tenant's workflow namespace and deploys the
// attached process definitions.
type WorkflowStep struct {
	base
	engine WorkflowEngine
}

func NewWorkflowStep(order int, engine WorkflowEngine, logger *logrus.Logger) *WorkflowStep {
	return &WorkflowStep{base: newBase(WorkflowEngineStep, order, pipeline.PolicyCompensable, logger), engine: engine}
}

func (s *WorkflowStep) Execute(ctx context.Context, data *models.StepData, rc *pipeline.ExecutionContext) error {
	id := rc.Tenant().ID
	ns, created, err := s.engine.Provision(ctx, id)
	if err != nil {
		if created {
			s.deprovisionPartial(ctx, rc, "provision")
		}
		return err
	}
	if !created {
		s.log(rc).WithField("namespace", ns).Warn("Reusing existing namespace, it will not be removed on rollback")
	}
	defs := data.FilesFor(PropertyDefinitions)
	if len(defs) > 0 {
		if err := s.engine.Deploy(ctx, id, ns, defs); err != nil {
			if created {
				s.deprovisionPartial(ctx, rc, "deploy")
			}
			return err
		}
	}
	rc.WorkflowNamespace = ns
	rc.WorkflowNamespaceCreated = created
	s.log(rc).WithFields(logrus.Fields{"namespace": ns, "definitions": len(defs)}).Info("Workflow engine provisioned")
	return nil
}

func (s *WorkflowStep) deprovisionPartial(ctx context.Context, rc *pipeline.ExecutionContext, stage string) {
	if err := s.engine.Deprovision(ctx, rc.Tenant().ID); err != nil {
		s.log(rc).Warnf("Failed to deprovision after %s failure: %v", stage, err)
	}
}

func (s *WorkflowStep) Rollback(ctx context.Context, data *models.StepData, rc *pipeline.ExecutionContext) bool {
	id := rc.Tenant().ID
	ok := true
	if len(data.FilesFor(PropertyDefinitions)) > 0 && rc.WorkflowNamespace != "" {
		if err := s.engine.Undeploy(ctx, id, rc.WorkflowNamespace); err != nil {
			s.log(rc).Errorf("Failed to undeploy definitions: %v", err)
			ok = false
		}
	}
	if rc.WorkflowNamespaceCreated {
		if err := s.engine.Deprovision(ctx, id); err != nil {
			s.log(rc).Errorf("Failed to deprovision workflow engine: %v", err)
			return false
		}
	}
	rc.WorkflowNamespace = ""
	rc.WorkflowNamespaceCreated = false
	return ok
}

// GraphStep stages the attached graph patches.
type GraphStep struct {
	base
	graph GraphStore
}

func NewGraphStep(order int, graph GraphStore, logger *logrus.Logger) *GraphStep {
	return &GraphStep{base: newBase(GraphStoreStep, order, pipeline.PolicyCompensable, logger), graph: graph}
}

func (s *GraphStep) Execute(ctx context.Context, data *models.StepData, rc *pipeline.ExecutionContext) error {
	id := rc.Tenant().ID
	keys, err := s.graph.ApplyPatches(ctx, id, data.FilesFor(PropertyPatches))
	if err != nil {
		if rErr := s.graph.RemovePatches(ctx, id); rErr != nil {
			s.log(rc).Warnf("Failed to remove partial patches: %v", rErr)
		}
		return err
	}
	rc.GraphPatches = keys
	return nil
}

func (s *GraphStep) Rollback(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) bool {
	if err := s.graph.RemovePatches(ctx, rc.Tenant().ID); err != nil {
		s.log(rc).Errorf("Failed to remove graph patches: %v", err)
		return false
	}
	rc.GraphPatches = nil
	return true
}

// ConfigurationStep registers the tenant's configuration values. It only
// ever removes the names it added itself.
type ConfigurationStep struct {
	base
	configs ConfigRegistry
	graph   GraphStore
}

func NewConfigurationStep(order int, configs ConfigRegistry, graph GraphStore, logger *logrus.Logger) *ConfigurationStep {
	return &ConfigurationStep{base: newBase(Configuration, order, pipeline.PolicyCompensable, logger), configs: configs, graph: graph}
}

func (s *ConfigurationStep) values(data *models.StepData, rc *pipeline.ExecutionContext) []models.ConfigValue {
	var values []models.ConfigValue
	if raw, ok := data.Property(PropertyConfigurations); ok {
		if m, ok := raw.(map[string]any); ok {
			for name, v := range m {
				values = append(values, models.ConfigValue{Name: name, Value: v})
			}
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })

	if ds := rc.Datasource; ds != nil {
		values = append(values,
			models.ConfigValue{Name: models.ConfigDatasourceSchema, Value: ds.Schema},
			models.ConfigValue{Name: models.ConfigDatasourceRole, Value: ds.Role},
		)
	}
	if rc.WorkflowNamespace != "" {
		values = append(values, models.ConfigValue{Name: models.ConfigWorkflowNamespace, Value: rc.WorkflowNamespace})
	}
	if s.graph != nil && len(rc.GraphPatches) > 0 {
		values = append(values, models.ConfigValue{Name: models.ConfigGraphPrefix, Value: s.graph.Prefix(rc.Tenant().ID)})
	}
	return values
}

func (s *ConfigurationStep) Execute(ctx context.Context, data *models.StepData, rc *pipeline.ExecutionContext) error {
	id := rc.Tenant().ID
	registered, err := s.configs.RegisteredNames(ctx, id)
	if err != nil {
		return err
	}
	var candidates []models.ConfigValue
	for _, v := range s.values(data, rc) {
		if !slices.Contains(registered, v.Name) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	accepted, err := s.configs.AddConfigurations(ctx, id, candidates)
	if err != nil {
		for _, name := range accepted {
			if rErr := s.configs.RemoveConfiguration(ctx, id, name); rErr != nil {
				s.log(rc).Warnf("Failed to remove partially added configuration %s: %v", name, rErr)
			}
		}
		return err
	}
	rc.RecordAddedConfigurations(accepted...)
	s.log(rc).WithField("added", len(accepted)).Info("Configurations registered")
	return nil
}

func (s *ConfigurationStep) Rollback(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) bool {
	id := rc.Tenant().ID
	var remaining []string
	for i := len(rc.AddedConfigurations) - 1; i >= 0; i-- {
		name := rc.AddedConfigurations[i]
		if err := s.configs.RemoveConfiguration(ctx, id, name); err != nil {
			s.log(rc).Errorf("Failed to remove configuration %s: %v", name, err)
			remaining = append([]string{name}, remaining...)
		}
	}
	rc.AddedConfigurations = remaining
	return len(remaining) == 0
}

// FinalizeStep activates the tenant. It is best effort: the provisioned
// resources stay in place when activation fails.
type FinalizeStep struct {
	base
	activator Activator
}

func NewFinalizeStep(order int, activator Activator, logger *logrus.Logger) *FinalizeStep {
	return &FinalizeStep{base: newBase(TenantFinalization, order, pipeline.PolicyBestEffort, logger), activator: activator}
}

func (s *FinalizeStep) Execute(ctx context.Context, _ *models.StepData, rc *pipeline.ExecutionContext) error {
	return s.activator.Activate(ctx, rc.Tenant().ID)
}

func (s *FinalizeStep) Rollback(context.Context, *models.StepData, *pipeline.ExecutionContext) bool {
	return true
}
