// Package config loads the service configuration from a YAML file overlaid
// by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Temporal   TemporalConfig   `yaml:"temporal"`
	Vault      VaultConfig      `yaml:"vault"`
	Graph      GraphConfig      `yaml:"graph"`
	Datasource DatasourceConfig `yaml:"datasource"`
	GitHub     GitHubConfig     `yaml:"github"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	Debug    bool   `yaml:"debug"`
}

type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
	// RetentionHours applies to the namespaces created for tenants.
	RetentionHours int `yaml:"retention_hours"`
}

// VaultConfig is optional; without an address credentials are not stored.
type VaultConfig struct {
	Address      string `yaml:"address"`
	CACert       string `yaml:"ca_cert"`
	Token        string `yaml:"token"`
	RoleID       string `yaml:"role_id"`
	SecretID     string `yaml:"secret_id"`
	AppRoleMount string `yaml:"approle_mount"`
	KVMount      string `yaml:"kv_mount"`
}

type GraphConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

type DatasourceConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Database     string `yaml:"database"`
	SchemaPrefix string `yaml:"schema_prefix"`
	RolePrefix   string `yaml:"role_prefix"`
}

// GitHubConfig enables activation issues when Token and Repo are set.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	Owner   string `yaml:"owner"`
	Repo    string `yaml:"repo"`
	BaseURL string `yaml:"base_url"`
}

type IngestConfig struct {
	ScratchDir string `yaml:"scratch_dir"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8080"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Temporal: TemporalConfig{
			HostPort:       "localhost:7233",
			Namespace:      "default",
			TaskQueue:      "tenant-pipelines",
			RetentionHours: 72,
		},
		Vault: VaultConfig{AppRoleMount: "approle", KVMount: "secret"},
		Graph: GraphConfig{Region: "us-east-1"},
		Datasource: DatasourceConfig{
			SchemaPrefix: "tenant_",
			RolePrefix:   "tenant_",
		},
	}
}

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() (bool, error) {
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load .env: %w", err)
	}
	return true, nil
}

// Load reads path (optional) over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Address, "HTTP_ADDRESS")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	setString(&c.Database.Host, "POSTGRES_DB_HOST")
	setString(&c.Database.User, "POSTGRES_DB_USER")
	setString(&c.Database.Password, "POSTGRES_DB_PASSWORD")
	setString(&c.Database.Name, "POSTGRES_DB_NAME")
	setString(&c.Database.SSLMode, "POSTGRES_DB_SSLMODE")
	if err := setInt(&c.Database.Port, "POSTGRES_DB_PORT"); err != nil {
		return err
	}

	setString(&c.Temporal.HostPort, "TEMPORAL_ADDRESS")
	setString(&c.Temporal.Namespace, "TEMPORAL_NAMESPACE")

	setString(&c.Vault.Address, "VAULT_ADDR")
	setString(&c.Vault.CACert, "VAULT_CACERT")
	setString(&c.Vault.Token, "VAULT_TOKEN")
	setString(&c.Vault.RoleID, "ROLE_ID")
	setString(&c.Vault.SecretID, "SECRET_ID")

	setString(&c.Graph.Endpoint, "S3_ENDPOINT")
	setString(&c.Graph.Bucket, "S3_BUCKET")
	setString(&c.Graph.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&c.Graph.SecretKey, "AWS_SECRET_ACCESS_KEY")

	setString(&c.GitHub.Token, "GITHUB_TOKEN")
	return nil
}

func setString(dst *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		*dst = val
	}
}

func setInt(dst *int, key string) error {
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.User == "" {
		missing = append(missing, "database.user (POSTGRES_DB_USER)")
	}
	if c.Database.Name == "" {
		missing = append(missing, "database.name (POSTGRES_DB_NAME)")
	}
	if c.Graph.Bucket == "" {
		missing = append(missing, "graph.bucket (S3_BUCKET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Vault.Address != "" && c.Vault.Token == "" && (c.Vault.RoleID == "" || c.Vault.SecretID == "") {
		return errors.New("vault requires a token or both role_id and secret_id")
	}
	return nil
}

// DatasourceHost falls back to the platform database when no separate
// tenant datasource host is configured.
func (c *Config) DatasourceHost() (string, int, string) {
	host, port, name := c.Datasource.Host, c.Datasource.Port, c.Datasource.Database
	if host == "" {
		host = c.Database.Host
	}
	if port == 0 {
		port = c.Database.Port
	}
	if name == "" {
		name = c.Database.Name
	}
	return host, port, name
}
