package cache

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/clock"
)

type memoryStore struct {
	entries Cache[string, Snapshot]
	ttl     time.Duration
	clk     clock.Clock
}

// NewMemoryStore returns an in-process snapshot store. It is used when no
// Redis target is configured and in tests; it offers no cross-process
// invalidation, which is acceptable because entries age out within the TTL.
func NewMemoryStore(ttl time.Duration, clk clock.Clock) Store {
	return &memoryStore{
		entries: NewTTLCache[string, Snapshot](clk),
		ttl:     ttl,
		clk:     clk,
	}
}

func (s *memoryStore) GetByID(ctx context.Context, id snowflake.ID) (*Snapshot, bool) {
	_ = ctx
	return s.get(keyPrefixID + id.String())
}

func (s *memoryStore) GetBySlug(ctx context.Context, slug string) (*Snapshot, bool) {
	_ = ctx
	return s.get(keyPrefixSlug + strings.ToLower(strings.TrimSpace(slug)))
}

func (s *memoryStore) get(key string) (*Snapshot, bool) {
	snapshot, ok := s.entries.Get(key)
	if !ok {
		return nil, false
	}
	if snapshot.Stale(s.clk.Now(), s.ttl) {
		s.entries.Delete(key)
		return nil, false
	}
	return &snapshot, true
}

func (s *memoryStore) Set(ctx context.Context, snapshot Snapshot) {
	_ = ctx
	if snapshot.ID == 0 {
		return
	}
	snapshot.CachedAt = s.clk.Now()
	s.entries.Set(keyPrefixID+snapshot.ID.String(), snapshot, s.ttl)
	if slug := strings.TrimSpace(snapshot.Slug); slug != "" {
		s.entries.Set(keyPrefixSlug+strings.ToLower(slug), snapshot, s.ttl)
	}
}

func (s *memoryStore) Delete(ctx context.Context, id snowflake.ID, slug string) {
	_ = ctx
	s.entries.Delete(keyPrefixID + id.String())
	if slug = strings.TrimSpace(slug); slug != "" {
		s.entries.Delete(keyPrefixSlug + strings.ToLower(slug))
	}
}

func (s *memoryStore) Close() error { return nil }
