package resolver

import (
	"github.com/smallbiznis/tenantplane/internal/cache"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	"github.com/smallbiznis/tenantplane/internal/pool"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewFromConfig(cfg config.Config, repo registrydomain.Repository, store cache.Store, pools *pool.Manager, clk clock.Clock, log *zap.Logger) *Service {
	return New(repo, store, pools, cfg.AuthJWTSecret, cfg.AuthTokenTTL, clk, log)
}

var Module = fx.Module("resolver",
	fx.Provide(NewFromConfig),
)
