package cache

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewStore selects the snapshot store backend: Redis when configured,
// otherwise in-process memory.
func NewStore(cfg config.Config, clk clock.Clock, log *zap.Logger) Store {
	if cfg.Redis.Addr == "" {
		log.Info("tenant cache using in-memory store")
		return NewMemoryStore(cfg.Cache.TTL, clk)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("tenant cache using redis", zap.String("addr", cfg.Redis.Addr))
	return NewRedisStore(client, cfg.Cache.TTL, clk, log)
}

func registerHooks(lc fx.Lifecycle, store Store) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return store.Close()
		},
	})
}

var Module = fx.Module("cache",
	fx.Provide(NewStore),
	fx.Invoke(registerHooks),
)
