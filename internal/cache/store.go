// Package cache is the cache-aside layer for tenant metadata snapshots.
// It fronts the registry; it is never authoritative and every operation
// fails open to a miss so readers always fall back to the source of truth.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
)

// Snapshot is a cached copy of a tenant registry row.
type Snapshot struct {
	ID        snowflake.ID `json:"id"`
	Slug      string       `json:"slug"`
	Name      string       `json:"name"`
	StorageID string       `json:"storage_id"`
	Status    string       `json:"status"`
	Plan      string       `json:"plan"`
	CachedAt  time.Time    `json:"cached_at"`
}

// Stale reports whether the snapshot is older than the TTL at the given
// instant. A stale entry must be treated as absent, never served.
func (s Snapshot) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CachedAt) > ttl
}

// SnapshotOf copies the cacheable fields of a registry row. CachedAt is
// stamped by the store on Set.
func SnapshotOf(tenant *registrydomain.Tenant) Snapshot {
	return Snapshot{
		ID:        tenant.ID,
		Slug:      strings.ToLower(tenant.Slug),
		Name:      tenant.Name,
		StorageID: tenant.StorageID,
		Status:    string(tenant.Status),
		Plan:      string(tenant.Plan),
	}
}

// Store holds tenant snapshots keyed by both tenant ID and slug.
type Store interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Snapshot, bool)
	GetBySlug(ctx context.Context, slug string) (*Snapshot, bool)
	Set(ctx context.Context, snapshot Snapshot)
	Delete(ctx context.Context, id snowflake.ID, slug string)
	Close() error
}

const (
	keyPrefixID   = "tenant:id:"
	keyPrefixSlug = "tenant:slug:"
)
