// Package resolver turns an authentication credential into a live tenant
// context: verified identity plus a connection-pool handle, with cache-aside
// reads against the tenant registry.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/cache"
	"github.com/smallbiznis/tenantplane/internal/clock"
	obsmetrics "github.com/smallbiznis/tenantplane/internal/observability/metrics"
	"github.com/smallbiznis/tenantplane/internal/pool"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAuth covers every client-visible authentication rejection: bad
// signature, expired token, unknown or inactive tenant, user-tenant
// mismatch. Never retried.
var ErrAuth = errors.New("auth_error")

type Service struct {
	repo     registrydomain.Repository
	store    cache.Store
	pools    *pool.Manager
	secret   []byte
	tokenTTL time.Duration
	clk      clock.Clock
	log      *zap.Logger
}

func New(repo registrydomain.Repository, store cache.Store, pools *pool.Manager, secret string, tokenTTL time.Duration, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		pools:    pools,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		clk:      clk,
		log:      log.Named("resolver"),
	}
}

// FromToken resolves the tenant context for an access token. The cache is
// consulted first; a fresh hit skips the registry entirely. On a miss the
// tenant must be active and the subject an active member before a new
// snapshot is written.
func (s *Service) FromToken(ctx context.Context, token string) (*tenantctx.Tenant, error) {
	claims, err := s.verifyToken(token)
	if err != nil {
		obsmetrics.ControlPlane().IncResolverFailure("token")
		return nil, err
	}

	tenantID, err := snowflake.ParseString(claims.TenantID)
	if err != nil {
		obsmetrics.ControlPlane().IncResolverFailure("token")
		return nil, fmt.Errorf("%w: malformed tenant_id claim", ErrAuth)
	}

	if snapshot, ok := s.store.GetByID(ctx, tenantID); ok {
		obsmetrics.ControlPlane().IncCacheHit()
		return s.buildContext(ctx, snapshot)
	}
	obsmetrics.ControlPlane().IncCacheMiss()

	tenant, err := s.activeTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	subject, err := snowflake.ParseString(claims.Subject)
	if err != nil {
		obsmetrics.ControlPlane().IncResolverFailure("subject")
		return nil, fmt.Errorf("%w: malformed subject claim", ErrAuth)
	}
	if err := s.verifyMembership(ctx, subject, tenantID); err != nil {
		return nil, err
	}

	snapshot := cache.SnapshotOf(tenant)
	s.store.Set(ctx, snapshot)
	return s.buildContext(ctx, &snapshot)
}

// FromEmail resolves the tenant for a login. It always reads the registry
// directly so login decisions are never made on stale data, but still primes
// the cache for the credential-based lookups that follow.
func (s *Service) FromEmail(ctx context.Context, email string) (*tenantctx.Tenant, *registrydomain.GlobalUser, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			obsmetrics.ControlPlane().IncResolverFailure("email")
			return nil, nil, fmt.Errorf("%w: unknown user", ErrAuth)
		}
		return nil, nil, err
	}
	if !user.IsActive {
		obsmetrics.ControlPlane().IncResolverFailure("email")
		return nil, nil, fmt.Errorf("%w: user inactive", ErrAuth)
	}

	tenant, err := s.activeTenant(ctx, user.TenantID)
	if err != nil {
		return nil, nil, err
	}

	snapshot := cache.SnapshotOf(tenant)
	s.store.Set(ctx, snapshot)

	tc, err := s.buildContext(ctx, &snapshot)
	if err != nil {
		return nil, nil, err
	}
	return tc, user, nil
}

// Invalidate removes every cache key for a tenant. Any operation that
// mutates tenant status or storage location must call this with the
// tenant's slug; callers always hold the row they just mutated, which
// keeps the slug key deletable even after the row is purged.
func (s *Service) Invalidate(ctx context.Context, tenantID snowflake.ID, slug string) {
	s.store.Delete(ctx, tenantID, strings.ToLower(slug))
	s.log.Info("tenant cache invalidated", zap.String("tenant_id", tenantID.String()))
}

func (s *Service) activeTenant(ctx context.Context, tenantID snowflake.ID) (*registrydomain.Tenant, error) {
	tenant, err := s.repo.GetTenantByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			obsmetrics.ControlPlane().IncResolverFailure("tenant")
			return nil, fmt.Errorf("%w: tenant not found", ErrAuth)
		}
		return nil, err
	}
	if tenant.Status != registrydomain.StatusActive {
		obsmetrics.ControlPlane().IncResolverFailure("tenant")
		return nil, fmt.Errorf("%w: tenant %s", ErrAuth, tenant.Status)
	}
	return tenant, nil
}

func (s *Service) verifyMembership(ctx context.Context, userID, tenantID snowflake.ID) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			obsmetrics.ControlPlane().IncResolverFailure("membership")
			return fmt.Errorf("%w: user not found in tenant", ErrAuth)
		}
		return err
	}
	if user.TenantID != tenantID {
		obsmetrics.ControlPlane().IncResolverFailure("membership")
		return fmt.Errorf("%w: user not found in tenant", ErrAuth)
	}
	if !user.IsActive {
		obsmetrics.ControlPlane().IncResolverFailure("membership")
		return fmt.Errorf("%w: user inactive", ErrAuth)
	}
	return nil
}

func (s *Service) buildContext(ctx context.Context, snapshot *cache.Snapshot) (*tenantctx.Tenant, error) {
	handle, err := s.pools.Get(ctx, snapshot.StorageID)
	if err != nil {
		return nil, err
	}
	return &tenantctx.Tenant{
		ID:        snapshot.ID,
		Slug:      snapshot.Slug,
		Name:      snapshot.Name,
		StorageID: snapshot.StorageID,
		Status:    snapshot.Status,
		Plan:      snapshot.Plan,
		Pool:      handle,
	}, nil
}

