package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/cache"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	"github.com/smallbiznis/tenantplane/internal/lifecycle"
	"github.com/smallbiznis/tenantplane/internal/logger"
	"github.com/smallbiznis/tenantplane/internal/migration"
	"github.com/smallbiznis/tenantplane/internal/pool"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	"github.com/smallbiznis/tenantplane/internal/provisioning/queue"
	"github.com/smallbiznis/tenantplane/internal/quota"
	"github.com/smallbiznis/tenantplane/internal/registry"
	"github.com/smallbiznis/tenantplane/internal/resolver"
	"github.com/smallbiznis/tenantplane/internal/scheduler"
	"github.com/smallbiznis/tenantplane/internal/server"
	"github.com/smallbiznis/tenantplane/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		registry.Module,
		cache.Module,
		pool.Module,
		resolver.Module,
		quota.Module,
		provisioning.Module,
		queue.Module,
		lifecycle.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
