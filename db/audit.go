package db

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/surajsub/tenant-provisioner/models"
	"gorm.io/gorm"
)

const auditTable = "audit_events"

// AuditStore keeps a tenant's audit events in a table of its own schema.
type AuditStore struct {
	db *gorm.DB
}

func NewAuditStore(gdb *gorm.DB) *AuditStore {
	return &AuditStore{db: gdb}
}

func auditTableName(ds models.DatasourceContext) string {
	return pq.QuoteIdentifier(ds.Schema) + "." + pq.QuoteIdentifier(auditTable)
}

func (a *AuditStore) Provision(ctx context.Context, tenantID string, ds models.DatasourceContext) error {
	table := auditTableName(ds)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id bigserial PRIMARY KEY,
			occurred_at timestamptz NOT NULL DEFAULT now(),
			actor text NOT NULL,
			action text NOT NULL,
			payload jsonb
		)`, table),
		fmt.Sprintf("GRANT SELECT, INSERT ON %s TO %s", table, pq.QuoteIdentifier(ds.Role)),
		fmt.Sprintf("INSERT INTO %s (actor, action, payload) VALUES ('provisioner', 'tenant.created', %s)",
			table, pq.QuoteLiteral(fmt.Sprintf(`{"tenant_id":%q}`, tenantID))),
	}
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to provision audit store for %s: %w", tenantID, err)
			}
		}
		return nil
	})
}

func (a *AuditStore) Drop(ctx context.Context, tenantID string, ds models.DatasourceContext) error {
	if err := a.db.WithContext(ctx).Exec("DROP TABLE IF EXISTS " + auditTableName(ds)).Error; err != nil {
		return fmt.Errorf("failed to drop audit store for %s: %w", tenantID, err)
	}
	return nil
}
