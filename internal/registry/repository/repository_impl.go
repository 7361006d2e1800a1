package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/registry/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) CreateTenant(ctx context.Context, tenant domain.Tenant) error {
	return r.db.WithContext(ctx).Create(&tenant).Error
}

func (r *repository) GetTenantByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) GetTenantBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "slug = ?", strings.ToLower(strings.TrimSpace(slug))).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) UpdateTenantStatus(ctx context.Context, id snowflake.ID, status domain.Status) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	switch status {
	case domain.StatusSuspended:
		updates["suspended_at"] = now
	case domain.StatusDeleted:
		updates["deleted_at"] = now
	case domain.StatusActive:
		updates["suspended_at"] = nil
	}
	return r.db.WithContext(ctx).Model(&domain.Tenant{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) SetTenantAdmin(ctx context.Context, id snowflake.ID, adminUserID snowflake.ID) error {
	return r.db.WithContext(ctx).Model(&domain.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"admin_user_id": adminUserID,
			"updated_at":    time.Now().UTC(),
		}).Error
}

func (r *repository) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Tenant{}).
		Where("slug = ?", strings.ToLower(strings.TrimSpace(slug))).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) DeleteTenant(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.Tenant{}, "id = ?", id).Error
}

func (r *repository) ListTenantsByStatus(ctx context.Context, status domain.Status) ([]domain.Tenant, error) {
	var tenants []domain.Tenant
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&tenants).Error
	return tenants, err
}

// ListTenants pages through the registry in ID order. A zero afterID
// starts from the beginning; status filters when non-empty.
func (r *repository) ListTenants(ctx context.Context, status domain.Status, afterID snowflake.ID, limit int) ([]domain.Tenant, error) {
	q := r.db.WithContext(ctx).Model(&domain.Tenant{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if afterID != 0 {
		q = q.Where("id > ?", afterID)
	}
	var tenants []domain.Tenant
	err := q.Order("id ASC").Limit(limit).Find(&tenants).Error
	return tenants, err
}

func (r *repository) CreateUser(ctx context.Context, user domain.GlobalUser) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return r.db.WithContext(ctx).Create(&user).Error
}

func (r *repository) GetUserByEmail(ctx context.Context, email string) (*domain.GlobalUser, error) {
	var user domain.GlobalUser
	err := r.db.WithContext(ctx).
		First(&user, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) GetUserByID(ctx context.Context, id snowflake.ID) (*domain.GlobalUser, error) {
	var user domain.GlobalUser
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) EmailTaken(ctx context.Context, email string) (bool, error) {
	_, err := r.GetUserByEmail(ctx, email)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (r *repository) SetUsersActive(ctx context.Context, tenantID snowflake.ID, active bool) error {
	return r.db.WithContext(ctx).Model(&domain.GlobalUser{}).
		Where("tenant_id = ?", tenantID).
		Update("is_active", active).Error
}

func (r *repository) TouchLastLogin(ctx context.Context, id snowflake.ID) error {
	return r.db.WithContext(ctx).Model(&domain.GlobalUser{}).
		Where("id = ?", id).
		Update("last_login_at", time.Now().UTC()).Error
}

func (r *repository) DeleteUsersByTenant(ctx context.Context, tenantID snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.GlobalUser{}, "tenant_id = ?", tenantID).Error
}

func (r *repository) CreateSettings(ctx context.Context, settings domain.TenantSettings) error {
	return r.db.WithContext(ctx).Create(&settings).Error
}

func (r *repository) GetSettings(ctx context.Context, tenantID snowflake.ID) (*domain.TenantSettings, error) {
	var settings domain.TenantSettings
	if err := r.db.WithContext(ctx).First(&settings, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

func (r *repository) UpdateSettings(ctx context.Context, settings domain.TenantSettings) error {
	settings.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.TenantSettings{}).
		Where("tenant_id = ?", settings.TenantID).
		Updates(map[string]any{
			"settings":   settings.Settings,
			"updated_at": settings.UpdatedAt,
		}).Error
}

func (r *repository) DeleteSettings(ctx context.Context, tenantID snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.TenantSettings{}, "tenant_id = ?", tenantID).Error
}

func (r *repository) CreateUsage(ctx context.Context, usage domain.TenantUsage) error {
	return r.db.WithContext(ctx).Create(&usage).Error
}

func (r *repository) GetUsage(ctx context.Context, tenantID snowflake.ID) (*domain.TenantUsage, error) {
	var usage domain.TenantUsage
	if err := r.db.WithContext(ctx).First(&usage, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *repository) DeleteUsage(ctx context.Context, tenantID snowflake.ID) error {
	return r.db.WithContext(ctx).Delete(&domain.TenantUsage{}, "tenant_id = ?", tenantID).Error
}
