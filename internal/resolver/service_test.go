package resolver

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tenantplane/internal/cache"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/pool"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/registry/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type nopConn struct{}

func (nopConn) PingContext(ctx context.Context) error { return nil }
func (nopConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return nil, nil
}
func (nopConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return nil, nil
}
func (nopConn) Stats() sql.DBStats { return sql.DBStats{} }
func (nopConn) Close() error       { return nil }

// countingRepo wraps the real repository to observe registry reads.
type countingRepo struct {
	registrydomain.Repository

	mu          sync.Mutex
	tenantReads int
}

func (r *countingRepo) GetTenantByID(ctx context.Context, id snowflake.ID) (*registrydomain.Tenant, error) {
	r.mu.Lock()
	r.tenantReads++
	r.mu.Unlock()
	return r.Repository.GetTenantByID(ctx, id)
}

func (r *countingRepo) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tenantReads
}

type resolverFixture struct {
	svc   *Service
	repo  *countingRepo
	store cache.Store
	node  *snowflake.Node
	clk   *clock.FakeClock
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&registrydomain.Tenant{},
		&registrydomain.GlobalUser{},
	))

	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	repo := &countingRepo{Repository: repository.NewRepository(db)}
	store := cache.NewMemoryStore(5*time.Minute, clk)
	pools := pool.New(pool.Config{}, func(storageID string) (pool.Conn, error) {
		return nopConn{}, nil
	}, clk, zap.NewNop())
	t.Cleanup(func() { _ = pools.CloseAll() })

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	svc := New(repo, store, pools, "test-secret", time.Hour, clk, zap.NewNop())
	return &resolverFixture{svc: svc, repo: repo, store: store, node: node, clk: clk}
}

func (f *resolverFixture) seedTenant(t *testing.T, status registrydomain.Status) *registrydomain.Tenant {
	t.Helper()
	id := f.node.Generate()
	tenant := registrydomain.Tenant{
		ID:        id,
		Slug:      "acme-" + id.String(),
		Name:      "Acme Corp",
		StorageID: "tenant_acme_" + id.String(),
		Status:    status,
		Plan:      registrydomain.PlanPro,
	}
	require.NoError(t, f.repo.CreateTenant(context.Background(), tenant))
	return &tenant
}

func (f *resolverFixture) seedUser(t *testing.T, tenantID snowflake.ID, email string, active bool) *registrydomain.GlobalUser {
	t.Helper()
	user := registrydomain.GlobalUser{
		ID:       f.node.Generate(),
		Email:    email,
		TenantID: tenantID,
		Role:     "admin",
		IsActive: active,
	}
	require.NoError(t, f.repo.CreateUser(context.Background(), user))
	return &user
}

func TestFromTokenRoundTrip(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	token, err := f.svc.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	require.NoError(t, err)

	tc, err := f.svc.FromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.ID)
	assert.Equal(t, tenant.StorageID, tc.StorageID)
	require.NotNil(t, tc.Pool)

	// The miss primed the cache under both keys.
	_, ok := f.store.GetByID(ctx, tenant.ID)
	assert.True(t, ok)
	_, ok = f.store.GetBySlug(ctx, tenant.Slug)
	assert.True(t, ok)
}

func TestFromTokenCacheHitSkipsRegistry(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	token, err := f.svc.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	require.NoError(t, err)

	_, err = f.svc.FromToken(ctx, token)
	require.NoError(t, err)
	baseline := f.repo.reads()

	_, err = f.svc.FromToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, baseline, f.repo.reads())
}

func TestFromTokenExpired(t *testing.T) {
	f := newResolverFixture(t)
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	token, err := f.svc.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	require.NoError(t, err)

	f.clk.Advance(time.Hour + time.Minute)
	_, err = f.svc.FromToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestFromTokenBadSignature(t *testing.T) {
	f := newResolverFixture(t)
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	other := New(f.repo, f.store, nil, "different-secret", time.Hour, f.clk, zap.NewNop())
	token, err := other.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	require.NoError(t, err)

	_, err = f.svc.FromToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestFromTokenGarbage(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.svc.FromToken(context.Background(), "not.a.token")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestFromTokenInactiveTenant(t *testing.T) {
	f := newResolverFixture(t)
	tenant := f.seedTenant(t, registrydomain.StatusSuspended)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	token, err := f.svc.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	require.NoError(t, err)

	_, err = f.svc.FromToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestFromTokenMembershipMismatch(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenantA := f.seedTenant(t, registrydomain.StatusActive)
	tenantB := f.seedTenant(t, registrydomain.StatusActive)
	stranger := f.seedUser(t, tenantB.ID, "stranger@other.test", true)

	// Token names tenant A but the subject belongs to tenant B.
	token, err := f.svc.IssueToken(stranger.ID, stranger.Email, tenantA.ID, "admin")
	require.NoError(t, err)

	_, err = f.svc.FromToken(ctx, token)
	assert.ErrorIs(t, err, ErrAuth)

	// A rejected resolution must not leave a snapshot behind under the slug.
	_, ok := f.store.GetBySlug(ctx, tenantA.Slug)
	assert.False(t, ok)
}

func TestFromEmail(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	f.seedUser(t, tenant.ID, "owner@acme.test", true)

	tc, user, err := f.svc.FromEmail(ctx, "owner@acme.test")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.ID)
	assert.Equal(t, "owner@acme.test", user.Email)

	// Login primes the cache for subsequent token resolutions.
	_, ok := f.store.GetByID(ctx, tenant.ID)
	assert.True(t, ok)
}

func TestFromEmailRejections(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	f.seedUser(t, tenant.ID, "dormant@acme.test", false)

	_, _, err := f.svc.FromEmail(ctx, "nobody@acme.test")
	assert.ErrorIs(t, err, ErrAuth)

	_, _, err = f.svc.FromEmail(ctx, "dormant@acme.test")
	assert.ErrorIs(t, err, ErrAuth)
}

func TestInvalidateRemovesSnapshot(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	token, err := f.svc.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	require.NoError(t, err)
	_, err = f.svc.FromToken(ctx, token)
	require.NoError(t, err)

	f.svc.Invalidate(ctx, tenant.ID, tenant.Slug)

	_, ok := f.store.GetByID(ctx, tenant.ID)
	assert.False(t, ok)
	_, ok = f.store.GetBySlug(ctx, tenant.Slug)
	assert.False(t, ok)
}

func TestInvalidateAfterRowRemoved(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	tenant := f.seedTenant(t, registrydomain.StatusActive)
	user := f.seedUser(t, tenant.ID, "owner@acme.test", true)

	_, _, err := f.svc.FromEmail(ctx, user.Email)
	require.NoError(t, err)

	// A purge deletes the registry row before invalidation runs; the
	// slug key must still come out of the cache.
	require.NoError(t, f.repo.DeleteTenant(ctx, tenant.ID))
	f.svc.Invalidate(ctx, tenant.ID, tenant.Slug)

	_, ok := f.store.GetByID(ctx, tenant.ID)
	assert.False(t, ok)
	_, ok = f.store.GetBySlug(ctx, tenant.Slug)
	assert.False(t, ok)
}
