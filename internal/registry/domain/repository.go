package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateTenant(ctx context.Context, tenant Tenant) error
	GetTenantByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	UpdateTenantStatus(ctx context.Context, id snowflake.ID, status Status) error
	SetTenantAdmin(ctx context.Context, id snowflake.ID, adminUserID snowflake.ID) error
	SlugTaken(ctx context.Context, slug string) (bool, error)
	DeleteTenant(ctx context.Context, id snowflake.ID) error
	ListTenantsByStatus(ctx context.Context, status Status) ([]Tenant, error)
	ListTenants(ctx context.Context, status Status, afterID snowflake.ID, limit int) ([]Tenant, error)

	CreateUser(ctx context.Context, user GlobalUser) error
	GetUserByEmail(ctx context.Context, email string) (*GlobalUser, error)
	GetUserByID(ctx context.Context, id snowflake.ID) (*GlobalUser, error)
	EmailTaken(ctx context.Context, email string) (bool, error)
	SetUsersActive(ctx context.Context, tenantID snowflake.ID, active bool) error
	TouchLastLogin(ctx context.Context, id snowflake.ID) error
	DeleteUsersByTenant(ctx context.Context, tenantID snowflake.ID) error

	CreateSettings(ctx context.Context, settings TenantSettings) error
	GetSettings(ctx context.Context, tenantID snowflake.ID) (*TenantSettings, error)
	UpdateSettings(ctx context.Context, settings TenantSettings) error
	DeleteSettings(ctx context.Context, tenantID snowflake.ID) error

	CreateUsage(ctx context.Context, usage TenantUsage) error
	GetUsage(ctx context.Context, tenantID snowflake.ID) (*TenantUsage, error)
	DeleteUsage(ctx context.Context, tenantID snowflake.ID) error
}
