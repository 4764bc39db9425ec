package models

// Well known configuration names written during creation and read back by
// the deletion pipeline.
const (
	ConfigDatasourceSchema  = "datasource.schema"
	ConfigDatasourceRole    = "datasource.role"
	ConfigWorkflowNamespace = "workflow.namespace"
	ConfigGraphPrefix       = "graph.prefix"
)

// ConfigValue is one entry of a tenant's configuration registry.
type ConfigValue struct {
	Name  string `json:"name" yaml:"name"`
	Value any    `json:"value" yaml:"value"`
}

// DatasourceContext describes a tenant's relational datasource. The schema
// step publishes it for the steps that follow.
type DatasourceContext struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Schema   string `json:"schema"`
	Role     string `json:"role"`
	// SecretPath is where the role's credentials are kept in the secret store.
	SecretPath string `json:"secret_path,omitempty"`
}
