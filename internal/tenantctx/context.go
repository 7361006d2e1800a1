package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/pool"
)

// Tenant is the resolved tenant context carried through a request: the
// registry identity plus a live pool handle for its storage.
type Tenant struct {
	ID        snowflake.ID
	Slug      string
	Name      string
	StorageID string
	Status    string
	Plan      string
	Pool      *pool.Handle
}

type tenantKey struct{}
type tenantIDKey struct{}

// WithTenant stores the resolved tenant in the context.
func WithTenant(ctx context.Context, tenant *Tenant) context.Context {
	ctx = context.WithValue(ctx, tenantKey{}, tenant)
	if tenant != nil {
		ctx = context.WithValue(ctx, tenantIDKey{}, tenant.ID)
	}
	return ctx
}

// FromContext returns the resolved tenant, if any.
func FromContext(ctx context.Context) (*Tenant, bool) {
	if ctx == nil {
		return nil, false
	}
	tenant, ok := ctx.Value(tenantKey{}).(*Tenant)
	if !ok || tenant == nil {
		return nil, false
	}
	return tenant, true
}

// WithTenantID stores only the tenant ID, for callers that have not resolved
// a full context yet.
func WithTenantID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, id)
}

// TenantIDFromContext returns the tenant ID from context, if set.
func TenantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	switch typed := ctx.Value(tenantIDKey{}).(type) {
	case snowflake.ID:
		return typed, true
	case int64:
		return snowflake.ID(typed), true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
