package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service is the registry contract. It is the source of truth for tenant
// identity and lifecycle; it never caches, so readers above it can layer
// cache-aside lookups without staleness leaking in here.
type Service interface {
	Create(ctx context.Context, pending Tenant) error
	Transition(ctx context.Context, id snowflake.ID, next Status) (*Tenant, error)
	Find(ctx context.Context, idOrSlug string) (*Tenant, error)
	FindByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	Purge(ctx context.Context, id snowflake.ID) error
}

var (
	ErrTenantNotFound    = errors.New("tenant_not_found")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrNotDeleted        = errors.New("tenant_not_deleted")
)
