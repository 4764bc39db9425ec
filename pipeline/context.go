package pipeline

import (
	"slices"

	"github.com/surajsub/tenant-provisioner/models"
)

// ExecutionContext is the state shared by the steps of one creation run.
// Values published by a step for later steps live in typed fields.
type ExecutionContext struct {
	runID  string
	tenant models.Tenant

	// Datasource is published by the schema step.
	Datasource *models.DatasourceContext
	// WorkflowNamespace is published by the workflow engine step.
	WorkflowNamespace string
	// WorkflowNamespaceCreated is set when this run registered the namespace
	// rather than reusing an existing one.
	WorkflowNamespaceCreated bool
	// GraphPatches lists the object keys staged by the graph step.
	GraphPatches []string
	// AddedConfigurations lists the configuration names the configuration
	// step itself added, never ones that were already registered.
	AddedConfigurations []string
}

func NewExecutionContext(runID string, tenant models.Tenant) *ExecutionContext {
	return &ExecutionContext{runID: runID, tenant: tenant}
}

func (c *ExecutionContext) RunID() string         { return c.runID }
func (c *ExecutionContext) Tenant() models.Tenant { return c.tenant }

// RecordAddedConfigurations appends names to the set of configurations
// owned by this run.
func (c *ExecutionContext) RecordAddedConfigurations(names ...string) {
	for _, n := range names {
		if !slices.Contains(c.AddedConfigurations, n) {
			c.AddedConfigurations = append(c.AddedConfigurations, n)
		}
	}
}

// DeletionContext is the state shared by the steps of one deletion run. It
// carries a snapshot of the tenant's configuration taken before the run.
type DeletionContext struct {
	runID    string
	tenant   models.Tenant
	snapshot map[string]models.ConfigValue
}

func NewDeletionContext(runID string, tenant models.Tenant, values []models.ConfigValue) *DeletionContext {
	snapshot := make(map[string]models.ConfigValue, len(values))
	for _, v := range values {
		snapshot[v.Name] = v
	}
	return &DeletionContext{runID: runID, tenant: tenant, snapshot: snapshot}
}

func (c *DeletionContext) RunID() string         { return c.runID }
func (c *DeletionContext) Tenant() models.Tenant { return c.tenant }

// GetConfigValue returns the named value from the snapshot or a
// *ConfigValueNotFoundError.
func (c *DeletionContext) GetConfigValue(name string) (models.ConfigValue, error) {
	v, ok := c.snapshot[name]
	if !ok {
		return models.ConfigValue{}, &ConfigValueNotFoundError{TenantID: c.tenant.ID, Name: name}
	}
	return v, nil
}

// GetConfigString is GetConfigValue for string values.
func (c *DeletionContext) GetConfigString(name string) (string, error) {
	v, err := c.GetConfigValue(name)
	if err != nil {
		return "", err
	}
	s, ok := v.Value.(string)
	if !ok || s == "" {
		return "", &ConfigValueNotFoundError{TenantID: c.tenant.ID, Name: name}
	}
	return s, nil
}
