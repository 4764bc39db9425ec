package db

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surajsub/tenant-provisioner/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type memCreds struct {
	secrets map[string]map[string]any
	deleted []string
}

func (m *memCreds) Put(_ context.Context, path string, data map[string]any) error {
	m.secrets[path] = data
	return nil
}

func (m *memCreds) Delete(_ context.Context, path string) error {
	delete(m.secrets, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	gdb, err := Open(postgres.New(postgres.Config{Conn: sqlDB}), false)
	require.NoError(t, err)
	return gdb, mock
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var acmeDS = models.DatasourceContext{
	Host:       "db",
	Port:       5432,
	Database:   "platform",
	Schema:     "tenant_acme",
	Role:       "tenant_acme",
	SecretPath: "tenants/acme/datasource",
}

func TestSchemaProvisionerProvision(t *testing.T) {
	gdb, mock := newMockDB(t)
	creds := &memCreds{secrets: map[string]map[string]any{}}
	p := NewSchemaProvisioner(gdb, creds, quietLogger())

	mock.ExpectExec(regexp.QuoteMeta(`CREATE ROLE "tenant_acme" LOGIN PASSWORD '`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA "tenant_acme" AUTHORIZATION "tenant_acme"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.schemata WHERE schema_name = $1`)).
		WithArgs("tenant_acme").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	actual, err := p.Provision(context.Background(), models.NewTenant("acme"), acmeDS)

	require.NoError(t, err)
	assert.Equal(t, acmeDS, actual)
	secret := creds.secrets[acmeDS.SecretPath]
	require.NotNil(t, secret)
	assert.Equal(t, "tenant_acme", secret["username"])
	assert.Len(t, secret["password"], 48)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaProvisionerReportsPartialWork(t *testing.T) {
	gdb, mock := newMockDB(t)
	p := NewSchemaProvisioner(gdb, nil, quietLogger())

	mock.ExpectExec(regexp.QuoteMeta(`CREATE ROLE "tenant_acme"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE SCHEMA "tenant_acme"`)).WillReturnError(errors.New("permission denied"))

	actual, err := p.Provision(context.Background(), models.NewTenant("acme"), acmeDS)

	assert.ErrorContains(t, err, "permission denied")
	assert.Equal(t, "tenant_acme", actual.Role)
	assert.Empty(t, actual.Schema)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaProvisionerRollbackDropsOnlyWhatExists(t *testing.T) {
	gdb, mock := newMockDB(t)
	creds := &memCreds{secrets: map[string]map[string]any{}}
	p := NewSchemaProvisioner(gdb, creds, quietLogger())
	partial := models.DatasourceContext{Role: "tenant_acme"}

	mock.ExpectExec(regexp.QuoteMeta(`DROP ROLE IF EXISTS "tenant_acme"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Rollback(context.Background(), partial, acmeDS, models.NewTenant("acme"), false)

	require.NoError(t, err)
	assert.Equal(t, []string{acmeDS.SecretPath}, creds.deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaProvisionerRollbackCollectsErrors(t *testing.T) {
	gdb, mock := newMockDB(t)
	p := NewSchemaProvisioner(gdb, nil, quietLogger())

	mock.ExpectExec(regexp.QuoteMeta(`DROP SCHEMA IF EXISTS "tenant_acme" CASCADE`)).WillReturnError(errors.New("in use"))
	mock.ExpectExec(regexp.QuoteMeta(`DROP ROLE IF EXISTS "tenant_acme"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.Rollback(context.Background(), acmeDS, acmeDS, models.NewTenant("acme"), false)

	assert.ErrorContains(t, err, "in use")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaProvisionerNeverDropsDefaultTenant(t *testing.T) {
	gdb, mock := newMockDB(t)
	p := NewSchemaProvisioner(gdb, nil, quietLogger())

	err := p.Rollback(context.Background(), acmeDS, acmeDS, models.Tenant{ID: models.DefaultTenantID}, true)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditStoreProvisionAndDrop(t *testing.T) {
	gdb, mock := newMockDB(t)
	a := NewAuditStore(gdb)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "tenant_acme"."audit_events"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`GRANT SELECT, INSERT ON "tenant_acme"."audit_events" TO "tenant_acme"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "tenant_acme"."audit_events"`)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "tenant_acme"."audit_events"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, a.Provision(context.Background(), "acme", acmeDS))
	require.NoError(t, a.Drop(context.Background(), "acme", acmeDS))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOptionsDSN(t *testing.T) {
	dsn := Options{Host: "db", Port: 5433, User: "svc", Password: "pw", Name: "platform"}.DSN()
	assert.Equal(t, "host=db user=svc password=pw dbname=platform port=5433 sslmode=disable TimeZone=UTC", dsn)
}
