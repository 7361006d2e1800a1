package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type service struct {
	db   *gorm.DB
	repo domain.Repository
	log  *zap.Logger
}

func NewService(db *gorm.DB, repo domain.Repository, log *zap.Logger) domain.Service {
	return &service{
		db:   db,
		repo: repo,
		log:  log.Named("registry"),
	}
}

func (s *service) Create(ctx context.Context, pending domain.Tenant) error {
	if pending.Status != domain.StatusPending {
		return domain.ErrInvalidStatus
	}
	return s.repo.CreateTenant(ctx, pending)
}

// Transition applies a lifecycle edge. Illegal edges are rejected without
// side effects.
func (s *service) Transition(ctx context.Context, id snowflake.ID, next domain.Status) (*domain.Tenant, error) {
	var updated *domain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		tenant, err := repo.GetTenantByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTenantNotFound
			}
			return err
		}

		if !domain.CanTransition(tenant.Status, next) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, tenant.Status, next)
		}

		if err := repo.UpdateTenantStatus(ctx, id, next); err != nil {
			return err
		}

		tenant.Status = next
		updated = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant transitioned",
		zap.String("tenant_id", id.String()),
		zap.String("status", string(next)),
	)
	return updated, nil
}

// Find resolves a tenant by ID or slug. It is the fallback of last resort
// below the cache layer and deliberately performs no caching of its own.
func (s *service) Find(ctx context.Context, idOrSlug string) (*domain.Tenant, error) {
	raw := strings.TrimSpace(idOrSlug)
	if raw == "" {
		return nil, domain.ErrTenantNotFound
	}

	if id, err := snowflake.ParseString(raw); err == nil {
		tenant, err := s.repo.GetTenantByID(ctx, id)
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	tenant, err := s.repo.GetTenantBySlug(ctx, raw)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

func (s *service) FindByID(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	tenant, err := s.repo.GetTenantByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

// Purge removes every registry row for a deleted tenant. This is the
// compliance-deletion path; ordinary lifecycle never removes rows.
func (s *service) Purge(ctx context.Context, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		tenant, err := repo.GetTenantByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTenantNotFound
			}
			return err
		}
		if tenant.Status != domain.StatusDeleted {
			return domain.ErrNotDeleted
		}

		if err := repo.DeleteUsersByTenant(ctx, id); err != nil {
			return err
		}
		if err := repo.DeleteSettings(ctx, id); err != nil {
			return err
		}
		if err := repo.DeleteUsage(ctx, id); err != nil {
			return err
		}
		return repo.DeleteTenant(ctx, id)
	})
}
