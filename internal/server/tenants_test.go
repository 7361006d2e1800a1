package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tenantplane/internal/cache"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/config"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/registry/repository"
	registryservice "github.com/smallbiznis/tenantplane/internal/registry/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type serverFixture struct {
	srv   *Server
	db    *gorm.DB
	repo  registrydomain.Repository
	store cache.Store
	node  *snowflake.Node
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&registrydomain.Tenant{},
		&registrydomain.GlobalUser{},
		&registrydomain.TenantSettings{},
		&registrydomain.TenantUsage{},
	))

	repo := repository.NewRepository(db)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemoryStore(5*time.Minute, clk)
	t.Cleanup(func() { _ = store.Close() })

	srv := NewServer(ServerParams{
		Gin:         NewEngine(),
		Cfg:         config.Config{},
		GenID:       node,
		RegistrySvc: registryservice.NewService(db, repo, zap.NewNop()),
		Repo:        repo,
		TenantCache: store,
		Clock:       clk,
		Log:         zap.NewNop(),
	})
	return &serverFixture{srv: srv, db: db, repo: repo, store: store, node: node}
}

func (f *serverFixture) seedTenant(t *testing.T, slug string, status registrydomain.Status) *registrydomain.Tenant {
	t.Helper()
	id := f.node.Generate()
	tenant := registrydomain.Tenant{
		ID:        id,
		Slug:      slug,
		Name:      "Acme Corp",
		StorageID: "tenant_" + slug + "_" + id.String(),
		Status:    status,
		Plan:      registrydomain.PlanPro,
	}
	require.NoError(t, f.repo.CreateTenant(context.Background(), tenant))
	return &tenant
}

func (f *serverFixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.srv.engine.ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestGetTenantPrimesSlugCache(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.seedTenant(t, "acme-corp", registrydomain.StatusActive)

	code, body := f.get(t, "/api/tenants/acme-corp")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, tenant.ID.String(), body["id"])
	assert.Equal(t, "Acme Corp", body["name"])

	snap, ok := f.store.GetBySlug(context.Background(), "acme-corp")
	require.True(t, ok)
	assert.Equal(t, tenant.ID, snap.ID)
}

func TestGetTenantServesCachedSnapshot(t *testing.T) {
	f := newServerFixture(t)
	f.seedTenant(t, "acme-corp", registrydomain.StatusActive)

	code, _ := f.get(t, "/api/tenants/acme-corp")
	require.Equal(t, http.StatusOK, code)

	// A registry change inside the TTL is not visible: the slug read
	// comes from the snapshot, not the row.
	require.NoError(t, f.db.Model(&registrydomain.Tenant{}).
		Where("slug = ?", "acme-corp").
		Update("name", "Renamed Corp").Error)

	code, body := f.get(t, "/api/tenants/acme-corp")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Acme Corp", body["name"])
}

func TestGetTenantSkipsCacheForInactiveSnapshot(t *testing.T) {
	f := newServerFixture(t)
	tenant := f.seedTenant(t, "acme-corp", registrydomain.StatusSuspended)
	f.store.Set(context.Background(), cache.SnapshotOf(tenant))

	code, body := f.get(t, "/api/tenants/acme-corp")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(registrydomain.StatusSuspended), body["status"])

	// Suspended rows never re-prime the slug key.
	f.store.Delete(context.Background(), tenant.ID, tenant.Slug)
	code, _ = f.get(t, "/api/tenants/acme-corp")
	require.Equal(t, http.StatusOK, code)
	_, ok := f.store.GetBySlug(context.Background(), "acme-corp")
	assert.False(t, ok)
}

func TestGetTenantUnknownSlug(t *testing.T) {
	f := newServerFixture(t)

	code, body := f.get(t, "/api/tenants/nobody-here")
	assert.Equal(t, http.StatusNotFound, code)
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "not_found", errObj["type"])
}
