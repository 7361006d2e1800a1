package queue

import (
	"context"

	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func NewFromConfig(db *gorm.DB, engine *provisioning.Engine, cfg config.Config, clk clock.Clock, log *zap.Logger) *Queue {
	return New(db, engine, Config{
		Workers:      cfg.Queue.Workers,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffBase:  cfg.Queue.BackoffBase,
		PollInterval: cfg.Queue.PollInterval,
	}, clk, log)
}

func registerHooks(lc fx.Lifecycle, q *Queue) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			q.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			q.Stop()
			return nil
		},
	})
}

var Module = fx.Module("provisioning_queue",
	fx.Provide(NewFromConfig),
	fx.Invoke(registerHooks),
)
