// Package steps holds the built-in creation and deletion steps and the
// narrow interfaces of the subsystems they drive.
package steps

import (
	"context"

	"github.com/surajsub/tenant-provisioner/models"
)

// SchemaProvisioner creates a tenant's relational schema and login role.
type SchemaProvisioner interface {
	// Provision returns the datasource actually created. On error the
	// returned context describes whatever was created before the failure.
	Provision(ctx context.Context, tenant models.Tenant, desired models.DatasourceContext) (models.DatasourceContext, error)
	// Rollback removes what Provision created. The default tenant's shared
	// schema is never dropped.
	Rollback(ctx context.Context, actual, desired models.DatasourceContext, tenant models.Tenant, isDefault bool) error
}

type AuditStore interface {
	Provision(ctx context.Context, tenantID string, ds models.DatasourceContext) error
	Drop(ctx context.Context, tenantID string, ds models.DatasourceContext) error
}

type WorkflowEngine interface {
	// Provision returns the namespace serving the tenant and whether this
	// call created it. created is meaningful on error too.
	Provision(ctx context.Context, tenantID string) (namespace string, created bool, err error)
	Deprovision(ctx context.Context, tenantID string) error
	Deploy(ctx context.Context, tenantID, namespace string, definitions []models.ModelFile) error
	Undeploy(ctx context.Context, tenantID, namespace string) error
}

type GraphStore interface {
	// Prefix is where the tenant's patches live.
	Prefix(tenantID string) string
	ApplyPatches(ctx context.Context, tenantID string, files []models.ModelFile) ([]string, error)
	RemovePatches(ctx context.Context, tenantID string) error
}

// ConfigRegistry stores per-tenant configuration values.
type ConfigRegistry interface {
	// AddConfigurations inserts values and returns the names it accepted.
	// Names already registered are not accepted.
	AddConfigurations(ctx context.Context, tenantID string, values []models.ConfigValue) ([]string, error)
	RemoveConfiguration(ctx context.Context, tenantID, name string) error
	RegisteredNames(ctx context.Context, tenantID string) ([]string, error)
	Values(ctx context.Context, tenantID string) ([]models.ConfigValue, error)
}

// TenantRegistry is the part of tenants.Manager the steps use.
type TenantRegistry interface {
	AddNewTenant(ctx context.Context, id string) (models.Tenant, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	RemoveTenant(ctx context.Context, id string) error
}

type Activator interface {
	Activate(ctx context.Context, id string) error
}
