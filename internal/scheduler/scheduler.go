// Package scheduler runs the periodic maintenance jobs of the control
// plane: monthly API-call resets, quota warnings, and recovery of
// provisioning jobs orphaned by a crashed worker.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/tenantplane/internal/clock"
	"github.com/smallbiznis/tenantplane/internal/provisioning/queue"
	quotadomain "github.com/smallbiznis/tenantplane/internal/quota/domain"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Registry registrydomain.Repository
	QuotaSvc quotadomain.Service
	Clock    clock.Clock
	Config   Config `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	clk      clock.Clock
	registry registrydomain.Repository
	quotaSvc quotadomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Registry == nil || p.QuotaSvc == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clk:      p.Clock,
		registry: p.Registry,
		quotaSvc: p.QuotaSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := s.clk.Now()
	err := fn(ctx)
	log := s.log.With(
		zap.String("job", name),
		zap.Duration("elapsed", s.clk.Now().Sub(start)),
	)
	if err != nil {
		log.Warn("job failed", zap.Error(err))
		return err
	}
	log.Debug("job finished")
	return nil
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"usage_reset", func(ctx context.Context) error {
			return s.runJob(ctx, "usage_reset", 30*time.Second, s.UsageResetJob)
		}},
		{"quota_warnings", func(ctx context.Context) error {
			return s.runJob(ctx, "quota_warnings", 30*time.Second, s.QuotaWarningsJob)
		}},
		{"job_recovery", func(ctx context.Context) error {
			return s.runJob(ctx, "job_recovery", 30*time.Second, s.JobRecoveryJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// If EnabledJobs is empty, all jobs are enabled by default (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// UsageResetJob zeroes the API call counter for every active tenant whose
// billing month has rolled over since the last reset.
func (s *Scheduler) UsageResetJob(ctx context.Context) error {
	tenants, err := s.registry.ListTenantsByStatus(ctx, registrydomain.StatusActive)
	if err != nil {
		return err
	}

	cutoff := s.clk.Now().AddDate(0, -1, 0)
	var errs error
	for _, tenant := range tenants {
		usage, err := s.registry.GetUsage(ctx, tenant.ID)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if usage.APICallsResetAt.After(cutoff) {
			continue
		}
		if err := s.quotaSvc.ResetAPICalls(ctx, tenant.ID); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		s.log.Info("api calls reset",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("slug", tenant.Slug),
		)
	}
	return errs
}

// QuotaWarningsJob logs every tenant at or above the warning threshold on
// any quota dimension so operators can act before hard denials start.
func (s *Scheduler) QuotaWarningsJob(ctx context.Context) error {
	warnings, err := s.quotaSvc.TenantsNearingLimit(ctx, s.cfg.WarningThreshold)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fields := []zap.Field{
			zap.String("tenant_id", w.TenantID),
			zap.String("slug", w.Slug),
			zap.String("plan", w.Plan),
		}
		if w.StoragePercent != nil {
			fields = append(fields, zap.Float64("storage_percent", *w.StoragePercent))
		}
		if w.UsersPercent != nil {
			fields = append(fields, zap.Float64("users_percent", *w.UsersPercent))
		}
		if w.APIPercent != nil {
			fields = append(fields, zap.Float64("api_calls_percent", *w.APIPercent))
		}
		s.log.Warn("tenant nearing quota limit", fields...)
	}
	return nil
}

// JobRecoveryJob returns provisioning jobs stuck in processing to pending.
// A job sits in processing past the threshold only when its worker died
// mid-run; the engine's rollback makes a re-run safe.
func (s *Scheduler) JobRecoveryJob(ctx context.Context) error {
	now := s.clk.Now()
	cutoff := now.Add(-s.cfg.RecoveryThreshold)
	res := s.db.WithContext(ctx).Model(&queue.Job{}).
		Where("status = ? AND updated_at < ?", queue.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":      queue.StatusPending,
			"next_run_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.log.Warn("recovered orphaned provisioning jobs", zap.Int64("count", res.RowsAffected))
	}
	return nil
}
