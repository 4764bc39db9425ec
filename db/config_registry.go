package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surajsub/tenant-provisioner/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConfigRegistry stores tenant configuration values as JSON rows.
type ConfigRegistry struct {
	db *gorm.DB
}

func NewConfigRegistry(gdb *gorm.DB) *ConfigRegistry {
	return &ConfigRegistry{db: gdb}
}

// AddConfigurations inserts values in one transaction. Names that already
// exist are left untouched and not reported as accepted.
func (r *ConfigRegistry) AddConfigurations(ctx context.Context, tenantID string, values []models.ConfigValue) ([]string, error) {
	var accepted []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, v := range values {
			raw, err := json.Marshal(v.Value)
			if err != nil {
				return fmt.Errorf("configuration %s: %w", v.Name, err)
			}
			row := ConfigValueRow{TenantID: tenantID, Name: v.Name, Value: datatypes.JSON(raw), CreatedAt: now}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("configuration %s: %w", v.Name, res.Error)
			}
			if res.RowsAffected == 1 {
				accepted = append(accepted, v.Name)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accepted, nil
}

// RemoveConfiguration is a no-op for names that are not registered.
func (r *ConfigRegistry) RemoveConfiguration(ctx context.Context, tenantID, name string) error {
	return r.db.WithContext(ctx).
		Where("tenant_id = ? AND name = ?", tenantID, name).
		Delete(&ConfigValueRow{}).Error
}

func (r *ConfigRegistry) RegisteredNames(ctx context.Context, tenantID string) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&ConfigValueRow{}).
		Where("tenant_id = ?", tenantID).
		Order("name").
		Pluck("name", &names).Error
	return names, err
}

func (r *ConfigRegistry) Values(ctx context.Context, tenantID string) ([]models.ConfigValue, error) {
	var rows []ConfigValueRow
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ConfigValue, 0, len(rows))
	for _, row := range rows {
		var v any
		if len(row.Value) > 0 {
			if err := json.Unmarshal(row.Value, &v); err != nil {
				return nil, fmt.Errorf("configuration %s: %w", row.Name, err)
			}
		}
		out = append(out, models.ConfigValue{Name: row.Name, Value: v})
	}
	return out, nil
}
