package db

import (
	"context"
	"errors"
	"time"

	"github.com/surajsub/tenant-provisioner/models"
	"github.com/surajsub/tenant-provisioner/tenants"
	"gorm.io/gorm"
)

// TenantStore is the Postgres tenants.Store.
type TenantStore struct {
	db *gorm.DB
}

func NewTenantStore(gdb *gorm.DB) *TenantStore {
	return &TenantStore{db: gdb}
}

func (s *TenantStore) Create(ctx context.Context, tenant models.Tenant) error {
	row := TenantRow{ID: tenant.ID, Status: string(tenant.Status), CreatedAt: tenant.CreatedAt, UpdatedAt: tenant.UpdatedAt}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return tenants.ErrTenantExists
	}
	return err
}

func (s *TenantStore) Get(ctx context.Context, id string) (*models.Tenant, error) {
	var row TenantRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := toTenant(row)
	return &t, nil
}

func (s *TenantStore) List(ctx context.Context) ([]models.Tenant, error) {
	var rows []TenantRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Tenant, 0, len(rows))
	for _, r := range rows {
		out = append(out, toTenant(r))
	}
	return out, nil
}

func (s *TenantStore) UpdateStatus(ctx context.Context, id string, status models.Status, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&TenantRow{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tenants.ErrTenantNotFound
	}
	return nil
}

func (s *TenantStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&TenantRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tenants.ErrTenantNotFound
	}
	return nil
}

func toTenant(r TenantRow) models.Tenant {
	return models.Tenant{ID: r.ID, Status: models.Status(r.Status), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}
