package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/provisioning/queue"
	quotaservice "github.com/smallbiznis/tenantplane/internal/quota/service"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/registry/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type schedulerFixture struct {
	sched *Scheduler
	repo  registrydomain.Repository
	db    *gorm.DB
	node  *snowflake.Node
	clk   *clock.FakeClock
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&registrydomain.Tenant{},
		&registrydomain.GlobalUser{},
		&registrydomain.TenantSettings{},
		&registrydomain.TenantUsage{},
		&queue.Job{},
	))

	repo := repository.NewRepository(db)
	clk := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	sched, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Registry: repo,
		QuotaSvc: quotaservice.NewService(db, repo, clk, zap.NewNop()),
		Clock:    clk,
	})
	require.NoError(t, err)
	return &schedulerFixture{sched: sched, repo: repo, db: db, node: node, clk: clk}
}

func (f *schedulerFixture) seedTenant(t *testing.T, status registrydomain.Status, resetAt time.Time, calls int64) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	id := f.node.Generate()
	require.NoError(t, f.repo.CreateTenant(ctx, registrydomain.Tenant{
		ID:        id,
		Slug:      "acme-" + id.String(),
		Name:      "Acme Corp",
		StorageID: "tenant_acme_" + id.String(),
		Status:    status,
		Plan:      registrydomain.PlanFree,
	}))
	require.NoError(t, f.repo.CreateUsage(ctx, registrydomain.TenantUsage{
		TenantID:        id,
		APICalls:        calls,
		APICallsResetAt: resetAt,
	}))
	return id
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestUsageResetJob(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	now := f.clk.Now()

	due := f.seedTenant(t, registrydomain.StatusActive, now.AddDate(0, -1, -1), 9_000)
	fresh := f.seedTenant(t, registrydomain.StatusActive, now.AddDate(0, 0, -5), 8_000)
	suspended := f.seedTenant(t, registrydomain.StatusSuspended, now.AddDate(0, -2, 0), 7_000)

	require.NoError(t, f.sched.UsageResetJob(ctx))

	usage, err := f.repo.GetUsage(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.APICalls)
	assert.WithinDuration(t, now, usage.APICallsResetAt, time.Second)

	usage, err = f.repo.GetUsage(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), usage.APICalls)

	// Suspended tenants are skipped entirely.
	usage, err = f.repo.GetUsage(ctx, suspended)
	require.NoError(t, err)
	assert.Equal(t, int64(7_000), usage.APICalls)
}

func TestQuotaWarningsJob(t *testing.T) {
	f := newSchedulerFixture(t)
	// 90% of the free call quota; the job only logs, so success is enough.
	f.seedTenant(t, registrydomain.StatusActive, f.clk.Now(), 9_000)

	require.NoError(t, f.sched.QuotaWarningsJob(context.Background()))
}

func TestJobRecoveryJob(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	now := f.clk.Now()

	stale := queue.Job{
		ID:                "prov-stale",
		Status:            queue.StatusProcessing,
		OrganizationName:  "Acme Corp",
		AdminEmail:        "owner@acme.test",
		AdminPasswordHash: "$argon2id$fake",
		NextRunAt:         now.Add(-time.Hour),
		CreatedAt:         now.Add(-time.Hour),
		UpdatedAt:         now.Add(-time.Hour),
	}
	live := queue.Job{
		ID:                "prov-live",
		Status:            queue.StatusProcessing,
		OrganizationName:  "Beta Inc",
		AdminEmail:        "owner@beta.test",
		AdminPasswordHash: "$argon2id$fake",
		NextRunAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now.Add(-time.Minute),
	}
	require.NoError(t, f.db.Create(&stale).Error)
	require.NoError(t, f.db.Create(&live).Error)

	require.NoError(t, f.sched.JobRecoveryJob(ctx))

	var recovered queue.Job
	require.NoError(t, f.db.First(&recovered, "id = ?", "prov-stale").Error)
	assert.Equal(t, queue.StatusPending, recovered.Status)
	assert.WithinDuration(t, now, recovered.NextRunAt, time.Second)

	var untouched queue.Job
	require.NoError(t, f.db.First(&untouched, "id = ?", "prov-live").Error)
	assert.Equal(t, queue.StatusProcessing, untouched.Status)
}

func TestRunOnceRespectsEnabledJobs(t *testing.T) {
	f := newSchedulerFixture(t)
	f.sched.cfg.EnabledJobs = []string{"job_recovery"}

	assert.False(t, f.sched.isJobEnabled("usage_reset"))
	assert.True(t, f.sched.isJobEnabled("JOB_RECOVERY"))
	require.NoError(t, f.sched.RunOnce(context.Background()))
}
