package registry

import (
	"github.com/smallbiznis/tenantplane/internal/registry/repository"
	"github.com/smallbiznis/tenantplane/internal/registry/service"
	"go.uber.org/fx"
)

var Module = fx.Module("registry.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
