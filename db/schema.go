package db

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/surajsub/tenant-provisioner/models"
	"gorm.io/gorm"
)

// CredentialStore keeps the generated datasource credentials.
type CredentialStore interface {
	Put(ctx context.Context, path string, data map[string]any) error
	Delete(ctx context.Context, path string) error
}

// SchemaProvisioner creates one schema and login role per tenant in the
// platform database.
type SchemaProvisioner struct {
	db     *gorm.DB
	creds  CredentialStore
	logger *logrus.Logger
	// MaxWait bounds how long Provision waits for the schema to show up.
	MaxWait time.Duration
}

func NewSchemaProvisioner(gdb *gorm.DB, creds CredentialStore, logger *logrus.Logger) *SchemaProvisioner {
	return &SchemaProvisioner{db: gdb, creds: creds, logger: logger, MaxWait: 30 * time.Second}
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (p *SchemaProvisioner) Provision(ctx context.Context, tenant models.Tenant, desired models.DatasourceContext) (models.DatasourceContext, error) {
	actual := desired
	actual.Role, actual.Schema, actual.SecretPath = "", "", ""
	gdb := p.db.WithContext(ctx)

	password, err := generatePassword()
	if err != nil {
		return actual, fmt.Errorf("failed to generate password: %w", err)
	}
	role := pq.QuoteIdentifier(desired.Role)
	if err := gdb.Exec(fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s", role, pq.QuoteLiteral(password))).Error; err != nil {
		return actual, fmt.Errorf("failed to create role %s: %w", desired.Role, err)
	}
	actual.Role = desired.Role

	schema := pq.QuoteIdentifier(desired.Schema)
	if err := gdb.Exec(fmt.Sprintf("CREATE SCHEMA %s AUTHORIZATION %s", schema, role)).Error; err != nil {
		return actual, fmt.Errorf("failed to create schema %s: %w", desired.Schema, err)
	}
	actual.Schema = desired.Schema

	if p.creds != nil && desired.SecretPath != "" {
		err := p.creds.Put(ctx, desired.SecretPath, map[string]any{
			"host":     desired.Host,
			"port":     desired.Port,
			"database": desired.Database,
			"schema":   desired.Schema,
			"username": desired.Role,
			"password": password,
		})
		if err != nil {
			return actual, fmt.Errorf("failed to store datasource credentials: %w", err)
		}
		actual.SecretPath = desired.SecretPath
	}

	if err := p.waitForSchema(ctx, desired.Schema); err != nil {
		return actual, err
	}
	p.logger.WithFields(logrus.Fields{"tenant": tenant.ID, "schema": actual.Schema}).Info("Schema ready")
	return actual, nil
}

var errSchemaMissing = errors.New("schema not visible yet")

func (p *SchemaProvisioner) waitForSchema(ctx context.Context, schema string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = p.MaxWait

	return backoff.Retry(func() error {
		var n int64
		err := p.db.WithContext(ctx).
			Raw("SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?", schema).
			Scan(&n).Error
		if err != nil {
			return err
		}
		if n == 0 {
			return errSchemaMissing
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// Rollback drops what Provision created, using actual to know what exists.
// The default tenant's schema is shared and never dropped.
func (p *SchemaProvisioner) Rollback(ctx context.Context, actual, desired models.DatasourceContext, tenant models.Tenant, isDefault bool) error {
	if isDefault {
		p.logger.WithField("tenant", tenant.ID).Warn("Refusing to drop the default tenant schema")
		return nil
	}
	gdb := p.db.WithContext(ctx)
	var result *multierror.Error
	if actual.Schema != "" {
		if err := gdb.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(actual.Schema))).Error; err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to drop schema %s: %w", actual.Schema, err))
		}
	}
	if actual.Role != "" {
		if err := gdb.Exec(fmt.Sprintf("DROP ROLE IF EXISTS %s", pq.QuoteIdentifier(actual.Role))).Error; err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to drop role %s: %w", actual.Role, err))
		}
	}
	secretPath := actual.SecretPath
	if secretPath == "" {
		secretPath = desired.SecretPath
	}
	if p.creds != nil && secretPath != "" {
		if err := p.creds.Delete(ctx, secretPath); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to delete datasource credentials: %w", err))
		}
	}
	return result.ErrorOrNil()
}
