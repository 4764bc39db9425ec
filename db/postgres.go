package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options describes the platform database.
type Options struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	// Debug logs every statement.
	Debug bool
}

func (o Options) DSN() string {
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		o.Host, o.User, o.Password, o.Name, o.Port, sslMode,
	)
}

// InitDB opens the platform database. Driver errors are translated so
// unique violations surface as gorm.ErrDuplicatedKey.
func InitDB(opts Options) (*gorm.DB, error) {
	return Open(postgres.Open(opts.DSN()), opts.Debug)
}

// Open opens a database on an explicit dialector.
func Open(dialector gorm.Dialector, debug bool) (*gorm.DB, error) {
	mode := logger.Silent
	if debug {
		mode = logger.Info
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(mode),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return gdb, nil
}

// Migrate creates or updates the tables owned by the service.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&TenantRow{}, &ConfigValueRow{}, &PipelineRun{}, &PipelineRunStep{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
