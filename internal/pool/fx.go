package pool

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewFromConfig builds the manager with the pgx opener. Tenant databases
// live on the storage cluster, so DSNs are derived from the admin target
// with the database name swapped in.
func NewFromConfig(cfg config.Config, clk clock.Clock, log *zap.Logger) *Manager {
	poolCfg := Config{
		PerTenantMax:   cfg.Pool.PerTenantMax,
		GlobalMax:      cfg.Pool.GlobalMax,
		IdleTimeout:    cfg.Pool.IdleTimeout,
		SweepInterval:  cfg.Pool.SweepInterval,
		ConnectTimeout: cfg.Pool.ConnectTimeout,
	}
	dsnFor := func(storageID string) string {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			cfg.Storage.AdminHost,
			cfg.Storage.AdminPort,
			cfg.Storage.AdminUser,
			cfg.Storage.AdminPassword,
			storageID,
			cfg.Storage.SSLMode,
		)
	}
	return New(poolCfg, NewOpener(poolCfg.withDefaults(), dsnFor), clk, log)
}

func registerHooks(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			m.StartSweeper()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = ctx
			m.StopSweeper()
			return m.CloseAll()
		},
	})
}

var Module = fx.Module("pool",
	fx.Provide(NewFromConfig),
	fx.Invoke(registerHooks),
)
