// Package domain defines plan limits and quota check results.
package domain

import (
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
)

// Resource names a quota-bounded dimension.
type Resource string

const (
	ResourceStorage       Resource = "storage"
	ResourceUsers         Resource = "users"
	ResourceAPICalls      Resource = "api_calls"
	ResourceCustomObjects Resource = "custom_objects"
)

// Limits holds the effective ceilings for one tenant. Storage is in GB.
type Limits struct {
	Storage       float64 `json:"storage"`
	Users         int     `json:"users"`
	APICalls      int64   `json:"api_calls"`
	CustomObjects int     `json:"custom_objects"`
}

// Overrides are optional per-tenant ceilings layered on top of the plan
// defaults; a nil field keeps the default.
type Overrides struct {
	Storage       *float64 `json:"storage,omitempty"`
	Users         *int     `json:"users,omitempty"`
	APICalls      *int64   `json:"api_calls,omitempty"`
	CustomObjects *int     `json:"custom_objects,omitempty"`
}

var planDefaults = map[registrydomain.Plan]Limits{
	registrydomain.PlanFree: {
		Storage:       1,
		Users:         5,
		APICalls:      10_000,
		CustomObjects: 10,
	},
	registrydomain.PlanPro: {
		Storage:       50,
		Users:         50,
		APICalls:      100_000,
		CustomObjects: 100,
	},
	registrydomain.PlanEnterprise: {
		Storage:       500,
		Users:         1000,
		APICalls:      1_000_000,
		CustomObjects: 1000,
	},
}

// PlanLimits returns the default ceilings for a plan. Unknown plans fall
// back to free.
func PlanLimits(plan registrydomain.Plan) Limits {
	if limits, ok := planDefaults[plan]; ok {
		return limits
	}
	return planDefaults[registrydomain.PlanFree]
}

// Apply layers overrides onto the defaults.
func (o Overrides) Apply(limits Limits) Limits {
	if o.Storage != nil {
		limits.Storage = *o.Storage
	}
	if o.Users != nil {
		limits.Users = *o.Users
	}
	if o.APICalls != nil {
		limits.APICalls = *o.APICalls
	}
	if o.CustomObjects != nil {
		limits.CustomObjects = *o.CustomObjects
	}
	return limits
}

// Limit returns the ceiling for one resource as a float for comparison.
func (l Limits) Limit(resource Resource) float64 {
	switch resource {
	case ResourceStorage:
		return l.Storage
	case ResourceUsers:
		return float64(l.Users)
	case ResourceAPICalls:
		return float64(l.APICalls)
	case ResourceCustomObjects:
		return float64(l.CustomObjects)
	default:
		return 0
	}
}

// CheckResult is the outcome of a quota check, surfaced to clients as-is so
// they can display current/limit.
type CheckResult struct {
	Allowed     bool    `json:"allowed"`
	Reason      string  `json:"reason,omitempty"`
	Current     float64 `json:"current"`
	Limit       float64 `json:"limit"`
	PercentUsed float64 `json:"percent_used"`
}

// UsageDeltas carries one usage report. Storage and users are gauges and
// replace the stored value; API calls are a counter and add to it.
type UsageDeltas struct {
	StorageBytes *int64 `json:"storage_bytes,omitempty"`
	ActiveUsers  *int   `json:"active_users,omitempty"`
	APICalls     *int64 `json:"api_calls,omitempty"`
}

// Warning flags one tenant approaching a ceiling.
type Warning struct {
	TenantID       string   `json:"tenant_id"`
	Slug           string   `json:"slug"`
	Name           string   `json:"name"`
	Plan           string   `json:"plan"`
	StoragePercent *float64 `json:"storage_percent,omitempty"`
	UsersPercent   *float64 `json:"users_percent,omitempty"`
	APIPercent     *float64 `json:"api_calls_percent,omitempty"`
}
