package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tenantplane/internal/clock"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/registry/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeStorage struct {
	ensured   []string
	dropped   []string
	ensureErr error
}

func (f *fakeStorage) EnsureDatabase(ctx context.Context, name string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeStorage) DropDatabase(ctx context.Context, name string) error {
	f.dropped = append(f.dropped, name)
	return nil
}

func (f *fakeStorage) Close() error { return nil }

type fakeSchema struct {
	installed  []string
	verified   []string
	installErr error
	verifyErr  error
}

func (f *fakeSchema) Install(ctx context.Context, database string) error {
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = append(f.installed, database)
	return nil
}

func (f *fakeSchema) Verify(ctx context.Context, database string) error {
	if f.verifyErr != nil {
		return f.verifyErr
	}
	f.verified = append(f.verified, database)
	return nil
}

type fakeBootstrap struct {
	workspaces []Workspace
	databases  []string
	err        error
}

func (f *fakeBootstrap) Bootstrap(ctx context.Context, database string, ws Workspace) error {
	if f.err != nil {
		return f.err
	}
	f.databases = append(f.databases, database)
	f.workspaces = append(f.workspaces, ws)
	return nil
}

type engineFixture struct {
	engine    *Engine
	repo      registrydomain.Repository
	storage   *fakeStorage
	schema    *fakeSchema
	workspace *fakeBootstrap
	node      *snowflake.Node
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
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
	storage := &fakeStorage{}
	schema := &fakeSchema{}
	workspace := &fakeBootstrap{}
	clk := clock.NewFakeClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	engine := NewEngine(repo, storage, schema, workspace, node, clk, "tenant_", zap.NewNop())
	engine.suffixFn = func() string { return "7777" }
	return &engineFixture{engine: engine, repo: repo, storage: storage, schema: schema, workspace: workspace, node: node}
}

func validRequest() Request {
	return Request{
		OrganizationName:  "Acme Corp",
		AdminEmail:        "owner@acme.test",
		AdminPasswordHash: "$argon2id$fake",
		Plan:              registrydomain.PlanPro,
	}
}

func TestProvisionSuccess(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	var steps []string
	result, err := f.engine.Provision(ctx, validRequest(), func(step string, percent int) {
		steps = append(steps, step)
	})
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", result.Slug)
	assert.Contains(t, result.StorageID, "tenant_acme-corp_")

	tenant, err := f.repo.GetTenantByID(ctx, result.TenantID)
	require.NoError(t, err)
	assert.Equal(t, registrydomain.StatusActive, tenant.Status)
	assert.Equal(t, result.AdminUserID, tenant.AdminUserID)
	assert.Equal(t, result.StorageID, tenant.StorageID)

	admin, err := f.repo.GetUserByID(ctx, result.AdminUserID)
	require.NoError(t, err)
	assert.Equal(t, "owner@acme.test", admin.Email)
	assert.Equal(t, "admin", admin.Role)
	assert.True(t, admin.IsActive)

	_, err = f.repo.GetSettings(ctx, result.TenantID)
	require.NoError(t, err)
	usage, err := f.repo.GetUsage(ctx, result.TenantID)
	require.NoError(t, err)
	assert.False(t, usage.APICallsResetAt.IsZero())

	assert.Equal(t, []string{result.StorageID}, f.storage.ensured)
	assert.Equal(t, []string{result.StorageID}, f.schema.installed)
	assert.Equal(t, []string{result.StorageID}, f.schema.verified)
	assert.Empty(t, f.storage.dropped)

	require.Len(t, f.workspace.workspaces, 1)
	ws := f.workspace.workspaces[0]
	assert.Equal(t, []string{result.StorageID}, f.workspace.databases)
	assert.Equal(t, result.TenantID, ws.TenantID)
	assert.Equal(t, "acme-corp", ws.Slug)
	require.NotNil(t, ws.Admin)
	assert.Equal(t, result.AdminUserID, ws.Admin.ID)
	assert.Equal(t, "owner@acme.test", ws.Admin.Email)

	assert.Equal(t, []string{
		StepValidate, StepSlug, StepRegistry, StepDatabase, StepSchema,
		StepVerify, StepWorkspace, StepAdminUser, StepRecords,
		StepActivate, StepActivate,
	}, steps)
}

func TestProvisionWithoutCredentials(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	result, err := f.engine.Provision(ctx, Request{
		OrganizationName: "Clerk Managed Org",
		ExternalOrgID:    "ext-123",
		Plan:             registrydomain.PlanPro,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "clerk-managed-org", result.Slug)
	assert.Zero(t, result.AdminUserID)

	tenant, err := f.repo.GetTenantByID(ctx, result.TenantID)
	require.NoError(t, err)
	assert.Equal(t, registrydomain.StatusActive, tenant.Status)
	assert.Equal(t, "ext-123", tenant.ExternalOrgID)
	assert.Zero(t, tenant.AdminUserID)

	// The workspace scaffold still lands; only the user rows wait for
	// the identity provider.
	require.Len(t, f.workspace.workspaces, 1)
	assert.Nil(t, f.workspace.workspaces[0].Admin)

	taken, err := f.repo.EmailTaken(ctx, "owner@acme.test")
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestProvisionRequiresEmailOrExternalOrg(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Provision(context.Background(), Request{
		OrganizationName: "No Contact Org",
	}, nil)
	assert.ErrorIs(t, err, ErrMissingField)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepValidate, perr.Step)
}

func TestProvisionRollbackOnWorkspaceFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.workspace.err = errors.New("scaffold insert failed")

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepWorkspace, perr.Step)

	_, err = f.repo.GetTenantBySlug(ctx, "acme-corp")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	taken, err := f.repo.EmailTaken(ctx, "owner@acme.test")
	require.NoError(t, err)
	assert.False(t, taken)
	assert.Equal(t, f.storage.ensured, f.storage.dropped)
}

func TestProvisionMissingFields(t *testing.T) {
	f := newEngineFixture(t)

	req := validRequest()
	req.AdminEmail = ""
	_, err := f.engine.Provision(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrMissingField)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepValidate, perr.Step)
}

func TestProvisionEmailTaken(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	require.NoError(t, err)

	req := validRequest()
	req.OrganizationName = "Acme Two"
	_, err = f.engine.Provision(ctx, req, nil)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestProvisionSlugCollision(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	require.NoError(t, err)

	req := validRequest()
	req.AdminEmail = "second@acme.test"
	result, err := f.engine.Provision(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp-7777", result.Slug)
}

func TestProvisionSlugExhaustion(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// With a fixed suffix every retry lands on the same two candidates.
	for _, s := range []string{"acme-corp", "acme-corp-7777"} {
		id := f.node.Generate()
		require.NoError(t, f.repo.CreateTenant(ctx, registrydomain.Tenant{
			ID:        id,
			Slug:      s,
			Name:      "Taken",
			StorageID: "tenant_" + s + "_" + id.String(),
			Status:    registrydomain.StatusActive,
			Plan:      registrydomain.PlanFree,
		}))
	}

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	assert.ErrorIs(t, err, ErrSlugGeneration)
}

// racingRepo loses the tenant insert a fixed number of times, simulating
// a concurrent provisioner grabbing the slug between the pre-check and
// the insert.
type racingRepo struct {
	registrydomain.Repository
	losses int
}

func (r *racingRepo) CreateTenant(ctx context.Context, tenant registrydomain.Tenant) error {
	if r.losses > 0 {
		r.losses--
		return gorm.ErrDuplicatedKey
	}
	return r.Repository.CreateTenant(ctx, tenant)
}

func TestProvisionInsertRaceReRollsSlug(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.engine.repo = &racingRepo{Repository: f.repo, losses: 1}

	result, err := f.engine.Provision(ctx, validRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp-7777", result.Slug)
	assert.Contains(t, result.StorageID, "tenant_acme-corp-7777_")

	tenant, err := f.repo.GetTenantBySlug(ctx, "acme-corp-7777")
	require.NoError(t, err)
	assert.Equal(t, registrydomain.StatusActive, tenant.Status)
	assert.Equal(t, result.StorageID, tenant.StorageID)
}

func TestProvisionInsertRaceSecondLossFails(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.engine.repo = &racingRepo{Repository: f.repo, losses: 2}

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepRegistry, perr.Step)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// No registry row was written, so there is nothing to roll back.
	_, err = f.repo.GetTenantBySlug(ctx, "acme-corp")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, f.storage.ensured)
	assert.Empty(t, f.storage.dropped)
}

func TestProvisionRollbackOnVerifyFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.schema.verifyErr = errors.New("schema incomplete")

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepVerify, perr.Step)

	// Registry rows are gone and the physical database was dropped.
	_, err = f.repo.GetTenantBySlug(ctx, "acme-corp")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	taken, err := f.repo.EmailTaken(ctx, "owner@acme.test")
	require.NoError(t, err)
	assert.False(t, taken)
	require.Len(t, f.storage.dropped, 1)
	assert.Equal(t, f.storage.ensured, f.storage.dropped)
}

func TestAttachUser(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	result, err := f.engine.Provision(ctx, validRequest(), nil)
	require.NoError(t, err)

	user, err := f.engine.AttachUser(ctx, result.TenantID, "member@acme.test", "")
	require.NoError(t, err)
	assert.Equal(t, "member", user.Role)
	assert.Equal(t, result.TenantID, user.TenantID)
	assert.True(t, user.IsActive)

	stored, err := f.repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordHash)

	_, err = f.engine.AttachUser(ctx, result.TenantID, "member@acme.test", "viewer")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.engine.AttachUser(ctx, result.TenantID, "", "viewer")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = f.engine.AttachUser(ctx, f.node.Generate(), "ghost@acme.test", "")
	assert.ErrorIs(t, err, registrydomain.ErrTenantNotFound)
}

func TestProvisionRollbackOnDatabaseFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.storage.ensureErr = errors.New("create database denied")

	_, err := f.engine.Provision(ctx, validRequest(), nil)
	require.Error(t, err)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepDatabase, perr.Step)

	_, err = f.repo.GetTenantBySlug(ctx, "acme-corp")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, f.schema.installed)
}
