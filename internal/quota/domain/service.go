package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Check evaluates current+increment against the effective limit.
	// A value at or below the limit is allowed; strictly greater is denied.
	Check(ctx context.Context, tenantID snowflake.ID, resource Resource, increment float64) (CheckResult, error)
	EffectiveLimits(ctx context.Context, tenantID snowflake.ID) (Limits, error)
	UpdateUsage(ctx context.Context, tenantID snowflake.ID, deltas UsageDeltas) error
	ResetAPICalls(ctx context.Context, tenantID snowflake.ID) error
	// TenantsNearingLimit reports tenants with any dimension at or above the
	// threshold, expressed as a fraction of the limit (0.8 means 80%).
	TenantsNearingLimit(ctx context.Context, threshold float64) ([]Warning, error)
	SetOverrides(ctx context.Context, tenantID snowflake.ID, overrides Overrides) error
}

var (
	ErrTenantNotFound  = errors.New("tenant_not_found")
	ErrUnknownResource = errors.New("unknown_resource")
	ErrNegativeDelta   = errors.New("negative_delta")
	ErrExceeded        = errors.New("quota_exceeded")
)
