// Package domain contains persistence models for the tenant registry.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Status is a tenant lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Plan identifies a subscription tier with default quotas.
type Plan string

const (
	PlanFree       Plan = "free"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Tenant is the registry row for one tenant organization. The storage ID is
// the name of its physical database and never changes for the lifetime of the
// tenant.
type Tenant struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug          string       `gorm:"type:text;not null;uniqueIndex:ux_tenant_registry_slug" json:"slug"`
	Name          string       `gorm:"type:text;not null" json:"name"`
	StorageID     string       `gorm:"column:storage_id;type:text;not null;uniqueIndex:ux_tenant_registry_storage" json:"storage_id"`
	Status        Status       `gorm:"type:text;not null" json:"status"`
	Plan          Plan         `gorm:"type:text;not null" json:"plan"`
	AdminUserID   snowflake.ID `gorm:"column:admin_user_id" json:"admin_user_id"`
	ExternalOrgID string       `gorm:"column:external_org_id;index" json:"external_org_id,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
	SuspendedAt   *time.Time   `json:"suspended_at,omitempty"`
	DeletedAt     *time.Time   `json:"deleted_at,omitempty"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenant_registry" }

// GlobalUser maps a login identity to its owning tenant. The credential hash
// is nil when an external identity provider owns the credential.
type GlobalUser struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"type:text;not null;uniqueIndex:ux_global_users_email" json:"email"`
	PasswordHash *string      `gorm:"column:password_hash;type:text" json:"-"`
	TenantID     snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Role         string       `gorm:"type:text;not null" json:"role"`
	IsActive     bool         `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (GlobalUser) TableName() string { return "global_users" }

// TenantSettings stores arbitrary per-tenant configuration, including quota
// overrides layered on top of plan defaults under the "quotas" key.
type TenantSettings struct {
	TenantID  snowflake.ID      `gorm:"primaryKey" json:"tenant_id"`
	Settings  datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"settings"`
	CreatedAt time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (TenantSettings) TableName() string { return "tenant_settings" }

// TenantUsage holds the usage counters enforced by the quota service.
// Counters only grow between resets.
type TenantUsage struct {
	TenantID        snowflake.ID `gorm:"primaryKey" json:"tenant_id"`
	StorageBytes    int64        `gorm:"column:storage_bytes;not null;default:0" json:"storage_bytes"`
	ActiveUsers     int          `gorm:"column:active_users;not null;default:0" json:"active_users"`
	APICalls        int64        `gorm:"column:api_calls;not null;default:0" json:"api_calls"`
	APICallsResetAt time.Time    `gorm:"column:api_calls_reset_at;not null" json:"api_calls_reset_at"`
	LastActivityAt  *time.Time   `gorm:"column:last_activity_at" json:"last_activity_at,omitempty"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (TenantUsage) TableName() string { return "tenant_usage" }

// CanTransition reports whether the lifecycle edge from -> to is legal.
// pending -> active, active <-> suspended, active|suspended -> deleted.
// deleted is terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusActive
	case StatusActive:
		return to == StatusSuspended || to == StatusDeleted
	case StatusSuspended:
		return to == StatusActive || to == StatusDeleted
	default:
		return false
	}
}
