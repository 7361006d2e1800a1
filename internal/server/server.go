// Package server exposes the control-plane HTTP API: provisioning,
// authentication, tenant lifecycle, quotas, and operator endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tenantplane/internal/cache"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	"github.com/smallbiznis/tenantplane/internal/lifecycle"
	"github.com/smallbiznis/tenantplane/internal/pool"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	"github.com/smallbiznis/tenantplane/internal/provisioning/queue"
	quotadomain "github.com/smallbiznis/tenantplane/internal/quota/domain"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/resolver"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	genID        *snowflake.Node
	registrySvc  registrydomain.Service
	repo         registrydomain.Repository
	quotaSvc     quotadomain.Service
	resolverSvc  *resolver.Service
	lifecycleSvc *lifecycle.Service
	tenantCache  cache.Store
	provisioner  *provisioning.Engine
	jobs         *queue.Queue
	pools        *pool.Manager
	clk          clock.Clock
	log          *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	GenID        *snowflake.Node
	RegistrySvc  registrydomain.Service
	Repo         registrydomain.Repository
	QuotaSvc     quotadomain.Service
	ResolverSvc  *resolver.Service
	LifecycleSvc *lifecycle.Service
	TenantCache  cache.Store
	Provisioner  *provisioning.Engine
	Jobs         *queue.Queue
	Pools        *pool.Manager
	Clock        clock.Clock
	Log          *zap.Logger
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		genID:        p.GenID,
		registrySvc:  p.RegistrySvc,
		repo:         p.Repo,
		quotaSvc:     p.QuotaSvc,
		resolverSvc:  p.ResolverSvc,
		lifecycleSvc: p.LifecycleSvc,
		tenantCache:  p.TenantCache,
		provisioner:  p.Provisioner,
		jobs:         p.Jobs,
		pools:        p.Pools,
		clk:          p.Clock,
		log:          p.Log.Named("server"),
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/register", s.Register)
	api.POST("/provisioning/jobs", s.EnqueueProvisioning)
	api.GET("/provisioning/jobs/:id", s.GetProvisioningJob)

	api.POST("/auth/login", s.Login)

	authed := api.Group("")
	authed.Use(s.TenantAuthMiddleware())
	authed.GET("/auth/me", s.Me)
	authed.GET("/quotas", s.GetQuotas)
	authed.POST("/quotas/check", s.CheckQuota)
	authed.POST("/usage", s.ReportUsage)

	api.GET("/tenants/:idOrSlug", s.GetTenant)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")

	admin.GET("/tenants", s.ListTenants)
	admin.POST("/tenants/:id/suspend", s.SuspendTenant)
	admin.POST("/tenants/:id/activate", s.ActivateTenant)
	admin.DELETE("/tenants/:id", s.DeleteTenant)
	admin.POST("/tenants/:id/users", s.AttachUser)
	admin.GET("/tenants/:id/quotas", s.GetTenantQuotas)
	admin.PUT("/tenants/:id/quotas", s.SetQuotaOverrides)
	admin.GET("/quota-warnings", s.QuotaWarnings)
	admin.GET("/pools", s.PoolStats)
	admin.POST("/provisioning/jobs/:id/retry", s.RetryProvisioningJob)
	admin.DELETE("/provisioning/jobs/:id", s.RemoveProvisioningJob)
}
