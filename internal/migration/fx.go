package migration

import (
	"github.com/smallbiznis/tenantplane/internal/provisioning/queue"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		// SQL migrations are written for PostgreSQL. Local sqlite
		// deployments build the schema from the models instead.
		if conn.Dialector.Name() != "postgres" {
			return conn.AutoMigrate(
				&registrydomain.Tenant{},
				&registrydomain.GlobalUser{},
				&registrydomain.TenantSettings{},
				&registrydomain.TenantUsage{},
				&queue.Job{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
