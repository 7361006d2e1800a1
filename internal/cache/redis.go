package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"go.uber.org/zap"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	clk    clock.Clock
	log    *zap.Logger
}

// NewRedisStore returns a Redis-backed snapshot store shared across process
// instances. Redis failures degrade to cache misses; they never surface to
// callers.
func NewRedisStore(client *redis.Client, ttl time.Duration, clk clock.Clock, log *zap.Logger) Store {
	return &redisStore{
		client: client,
		ttl:    ttl,
		clk:    clk,
		log:    log.Named("cache"),
	}
}

func (s *redisStore) GetByID(ctx context.Context, id snowflake.ID) (*Snapshot, bool) {
	return s.get(ctx, keyPrefixID+id.String())
}

func (s *redisStore) GetBySlug(ctx context.Context, slug string) (*Snapshot, bool) {
	return s.get(ctx, keyPrefixSlug+strings.ToLower(strings.TrimSpace(slug)))
}

func (s *redisStore) get(ctx context.Context, key string) (*Snapshot, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.log.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		s.client.Del(ctx, key)
		return nil, false
	}

	// The key TTL already bounds the entry lifetime; the age check covers
	// clock drift between writers.
	if snapshot.Stale(s.clk.Now(), s.ttl) {
		s.Delete(ctx, snapshot.ID, snapshot.Slug)
		return nil, false
	}
	return &snapshot, true
}

func (s *redisStore) Set(ctx context.Context, snapshot Snapshot) {
	if snapshot.ID == 0 {
		return
	}
	snapshot.CachedAt = s.clk.Now()

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Warn("cache marshal failed", zap.Error(err))
		return
	}

	if err := s.client.Set(ctx, keyPrefixID+snapshot.ID.String(), data, s.ttl).Err(); err != nil {
		s.log.Warn("cache write failed", zap.Error(err))
		return
	}
	if slug := strings.ToLower(strings.TrimSpace(snapshot.Slug)); slug != "" {
		if err := s.client.Set(ctx, keyPrefixSlug+slug, data, s.ttl).Err(); err != nil {
			s.log.Warn("cache write failed", zap.Error(err))
		}
	}
}

func (s *redisStore) Delete(ctx context.Context, id snowflake.ID, slug string) {
	keys := []string{keyPrefixID + id.String()}
	if slug = strings.ToLower(strings.TrimSpace(slug)); slug != "" {
		keys = append(keys, keyPrefixSlug+slug)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn("cache delete failed", zap.Error(err))
	}
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
