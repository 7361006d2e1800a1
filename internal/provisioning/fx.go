package provisioning

import (
	"context"

	"github.com/bwmarrin/snowflake"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewEngineFromConfig(cfg config.Config, repo registrydomain.Repository, storage StorageAdmin, schema SchemaProvisioner, workspace WorkspaceBootstrapper, node *snowflake.Node, clk clock.Clock, log *zap.Logger) *Engine {
	return NewEngine(repo, storage, schema, workspace, node, clk, cfg.Storage.TenantDBPrefix, log)
}

func registerHooks(lc fx.Lifecycle, storage StorageAdmin) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return storage.Close()
		},
	})
}

var Module = fx.Module("provisioning",
	fx.Provide(
		NewStorageAdmin,
		NewSchemaProvisioner,
		NewWorkspaceBootstrapper,
		NewEngineFromConfig,
	),
	fx.Invoke(registerHooks),
)
