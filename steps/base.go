package steps

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/pipeline"
)

// Step identifiers. The same identifier is used by the creation and the
// deletion step acting on one subsystem so a single model document can
// address both.
const (
	TenantValidation   = "tenant-validation"
	TenantRegistration = "tenant-registration"
	DatasourceSchema   = "datasource-schema"
	AuditStoreStep     = "audit-store"
	WorkflowEngineStep = "workflow-engine"
	GraphStoreStep     = "graph-store"
	Configuration      = "configuration"
	TenantFinalization = "tenant-finalization"
	TenantRemoval      = "tenant-removal"
)

// Property ids read from StepData.
const (
	PropertyDefinitions    = "definitions"
	PropertyPatches        = "patches"
	PropertyConfigurations = "configurations"
)

type base struct {
	id     string
	order  int
	policy pipeline.Policy
	logger *logrus.Logger
}

func newBase(id string, order int, policy pipeline.Policy, logger *logrus.Logger) base {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return base{id: id, order: order, policy: policy, logger: logger}
}

func (b base) Identifier() string      { return b.id }
func (b base) Order() int              { return b.order }
func (b base) Policy() pipeline.Policy { return b.policy }

func (b base) log(rc pipeline.RunContext) *logrus.Entry {
	return b.logger.WithFields(logrus.Fields{
		"step":   b.id,
		"tenant": rc.Tenant().ID,
		"run_id": rc.RunID(),
	})
}

// DatasourceTemplate derives a tenant's desired datasource from the shared
// database settings.
type DatasourceTemplate struct {
	Host         string
	Port         int
	Database     string
	SchemaPrefix string
	RolePrefix   string
}

func (t DatasourceTemplate) For(tenantID string) models.DatasourceContext {
	name := strings.ReplaceAll(tenantID, "-", "_")
	return models.DatasourceContext{
		Host:       t.Host,
		Port:       t.Port,
		Database:   t.Database,
		Schema:     t.SchemaPrefix + name,
		Role:       t.RolePrefix + name,
		SecretPath: fmt.Sprintf("tenants/%s/datasource", tenantID),
	}
}

// snapshotString reads a configuration value the deletion needs. A missing
// value is fatal for ACTIVE tenants. Tenants whose creation never finished
// registered their configuration last or not at all, so ok is false and the
// caller tears down by the tenant's derived resource names instead.
func snapshotString(rc *pipeline.DeletionContext, name string) (value string, ok bool, err error) {
	v, err := rc.GetConfigString(name)
	if err == nil {
		return v, true, nil
	}
	if rc.Tenant().Status == models.StatusActive {
		return "", false, err
	}
	return "", false, nil
}
