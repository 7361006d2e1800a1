// Package lifecycle coordinates tenant state changes across the registry,
// resolver cache, connection pools, and physical storage.
package lifecycle

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/pool"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/resolver"
	"go.uber.org/zap"
)

type Service struct {
	registry registrydomain.Service
	repo     registrydomain.Repository
	resolver *resolver.Service
	pools    *pool.Manager
	storage  provisioning.StorageAdmin
	log      *zap.Logger
}

func New(registry registrydomain.Service, repo registrydomain.Repository, res *resolver.Service, pools *pool.Manager, storage provisioning.StorageAdmin, log *zap.Logger) *Service {
	return &Service{
		registry: registry,
		repo:     repo,
		resolver: res,
		pools:    pools,
		storage:  storage,
		log:      log.Named("lifecycle"),
	}
}

// Suspend blocks all resolution for a tenant. The cache entry and any open
// pool are torn down immediately so in-flight credentials stop working
// within one request, not one TTL.
func (s *Service) Suspend(ctx context.Context, tenantID snowflake.ID) (*registrydomain.Tenant, error) {
	tenant, err := s.registry.Transition(ctx, tenantID, registrydomain.StatusSuspended)
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx, tenantID, tenant.Slug)
	if err := s.pools.Close(tenant.StorageID); err != nil {
		s.log.Warn("close pool on suspend", zap.String("storage_id", tenant.StorageID), zap.Error(err))
	}
	s.log.Info("tenant suspended", zap.String("tenant_id", tenantID.String()))
	return tenant, nil
}

// Activate restores a suspended tenant. No cache warm-up is needed; the
// next resolution repopulates it.
func (s *Service) Activate(ctx context.Context, tenantID snowflake.ID) (*registrydomain.Tenant, error) {
	tenant, err := s.registry.Transition(ctx, tenantID, registrydomain.StatusActive)
	if err != nil {
		return nil, err
	}
	s.resolver.Invalidate(ctx, tenantID, tenant.Slug)
	s.log.Info("tenant activated", zap.String("tenant_id", tenantID.String()))
	return tenant, nil
}

// Delete marks a tenant deleted and deactivates its users. When purge is
// set, the registry records and physical database are removed as well;
// otherwise they are retained for a grace period.
func (s *Service) Delete(ctx context.Context, tenantID snowflake.ID, purge bool) (*registrydomain.Tenant, error) {
	tenant, err := s.registry.Transition(ctx, tenantID, registrydomain.StatusDeleted)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetUsersActive(ctx, tenantID, false); err != nil {
		s.log.Warn("deactivate users on delete", zap.Error(err))
	}
	s.resolver.Invalidate(ctx, tenantID, tenant.Slug)
	if err := s.pools.Close(tenant.StorageID); err != nil {
		s.log.Warn("close pool on delete", zap.String("storage_id", tenant.StorageID), zap.Error(err))
	}

	if purge {
		if err := s.registry.Purge(ctx, tenantID); err != nil {
			return nil, err
		}
		if err := s.storage.DropDatabase(ctx, tenant.StorageID); err != nil {
			s.log.Error("drop database on delete",
				zap.String("storage_id", tenant.StorageID),
				zap.Error(err),
			)
		}
	}
	s.log.Info("tenant deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.Bool("purged", purge),
	)
	return tenant, nil
}
