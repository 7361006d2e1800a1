// Package queue runs tenant provisioning asynchronously. Jobs are durable
// rows claimed with compare-and-swap updates, so multiple workers and even
// multiple processes can share the same table without double-processing.
package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/tenantplane/internal/clock"
	obsmetrics "github.com/smallbiznis/tenantplane/internal/observability/metrics"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound = errors.New("job_not_found")
	ErrJobBusy     = errors.New("job_in_progress")
	ErrJobState    = errors.New("invalid_job_state")
)

// Provisioner is the slice of the engine the queue needs.
type Provisioner interface {
	Provision(ctx context.Context, req provisioning.Request, progress provisioning.ProgressFunc) (*provisioning.Result, error)
}

type Config struct {
	Workers      int
	MaxAttempts  int
	BackoffBase  time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

type Queue struct {
	db     *gorm.DB
	engine Provisioner
	cfg    Config
	clk    clock.Clock
	log    *zap.Logger

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(db *gorm.DB, engine Provisioner, cfg Config, clk clock.Clock, log *zap.Logger) *Queue {
	return &Queue{
		db:     db,
		engine: engine,
		cfg:    cfg.withDefaults(),
		clk:    clk,
		log:    log.Named("provisioning_queue"),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

func newJobID() string {
	return "prov-" + ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Enqueue persists a new pending job. The password in the request must
// already be hashed; the job row stores no plaintext credentials. Jobs
// without an admin email are accepted when an external org ID ties the
// tenant to an identity provider.
func (q *Queue) Enqueue(ctx context.Context, req provisioning.Request) (*Job, error) {
	if req.OrganizationName == "" {
		return nil, provisioning.ErrMissingField
	}
	if req.AdminEmail == "" && req.ExternalOrgID == "" {
		return nil, provisioning.ErrMissingField
	}
	now := q.clk.Now()
	job := &Job{
		ID:                newJobID(),
		Status:            StatusPending,
		OrganizationName:  req.OrganizationName,
		AdminEmail:        req.AdminEmail,
		AdminPasswordHash: req.AdminPasswordHash,
		Plan:              string(req.Plan),
		ExternalOrgID:     req.ExternalOrgID,
		NextRunAt:         now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := q.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, err
	}
	obsmetrics.ControlPlane().IncJob("enqueued")
	q.log.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("organization", job.OrganizationName),
	)
	q.wake()
	return job, nil
}

// GetStatus returns the job record, or nil when no job has that ID.
func (q *Queue) GetStatus(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := q.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Retry resets a failed job so the workers pick it up again with a fresh
// attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) (*Job, error) {
	job, err := q.GetStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("%w: cannot retry %s job", ErrJobState, job.Status)
	}
	now := q.clk.Now()
	err = q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]any{
			"status":      StatusPending,
			"attempts":    0,
			"progress":    0,
			"last_error":  "",
			"next_run_at": now,
			"updated_at":  now,
		}).Error
	if err != nil {
		return nil, err
	}
	q.wake()
	return q.GetStatus(ctx, id)
}

// Remove deletes a job that is not currently running.
func (q *Queue) Remove(ctx context.Context, id string) error {
	res := q.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, StatusProcessing).
		Delete(&Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		job, err := q.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrJobNotFound
		}
		return ErrJobBusy
	}
	return nil
}

// RunOnce claims and processes at most one due job. It reports whether a
// job was processed.
func (q *Queue) RunOnce(ctx context.Context) (bool, error) {
	job, err := q.claim(ctx)
	if err != nil || job == nil {
		return false, err
	}
	q.process(ctx, job)
	return true, nil
}

// claim picks the oldest due pending job and flips it to processing. The
// conditional update is the lock: losing the race just means another worker
// got there first.
func (q *Queue) claim(ctx context.Context) (*Job, error) {
	now := q.clk.Now()
	var job Job
	err := q.db.WithContext(ctx).
		Where("status = ? AND next_run_at <= ?", StatusPending, now).
		Order("created_at asc").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res := q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", job.ID, StatusPending).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"attempts":   job.Attempts + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	job.Status = StatusProcessing
	job.Attempts++
	return &job, nil
}

func (q *Queue) process(ctx context.Context, job *Job) {
	req := provisioning.Request{
		OrganizationName:  job.OrganizationName,
		AdminEmail:        job.AdminEmail,
		AdminPasswordHash: job.AdminPasswordHash,
		Plan:              registrydomain.Plan(job.Plan),
		ExternalOrgID:     job.ExternalOrgID,
	}

	progress := func(step string, percent int) {
		q.db.WithContext(ctx).Model(&Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]any{
				"current_step": step,
				"progress":     percent,
				"updated_at":   q.clk.Now(),
			})
	}

	result, err := q.engine.Provision(ctx, req, progress)
	if err != nil {
		q.fail(ctx, job, err)
		return
	}

	now := q.clk.Now()
	q.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       StatusCompleted,
			"progress":     100,
			"tenant_id":    result.TenantID,
			"completed_at": now,
			"updated_at":   now,
		})
	obsmetrics.ControlPlane().IncJob("completed")
	q.log.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", result.TenantID.String()),
	)
}

func (q *Queue) fail(ctx context.Context, job *Job, cause error) {
	now := q.clk.Now()
	updates := map[string]any{
		"last_error": cause.Error(),
		"updated_at": now,
	}

	var pe *provisioning.Error
	if errors.As(cause, &pe) {
		updates["current_step"] = pe.Step
	}

	if job.Attempts >= q.cfg.MaxAttempts || !retryable(cause) {
		updates["status"] = StatusFailed
		obsmetrics.ControlPlane().IncJob("failed")
		q.log.Error("job failed",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Error(cause),
		)
	} else {
		delay := q.cfg.BackoffBase << (job.Attempts - 1)
		updates["status"] = StatusPending
		updates["next_run_at"] = now.Add(delay)
		obsmetrics.ControlPlane().IncJob("retried")
		q.log.Warn("job will retry",
			zap.String("job_id", job.ID),
			zap.Int("attempts", job.Attempts),
			zap.Duration("delay", delay),
			zap.Error(cause),
		)
	}

	q.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(updates)
}

// retryable reports whether another attempt could possibly succeed.
// Validation rejections never change on retry.
func retryable(err error) bool {
	switch {
	case errors.Is(err, provisioning.ErrMissingField),
		errors.Is(err, provisioning.ErrEmailTaken):
		return false
	}
	return true
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Start launches the worker goroutines. They poll for due jobs and also
// wake immediately when Enqueue runs in the same process.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.log.Info("workers started", zap.Int("workers", q.cfg.Workers))
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-q.notify:
		case <-ticker.C:
		}
		for {
			processed, err := q.RunOnce(context.Background())
			if err != nil {
				q.log.Error("worker claim failed", zap.Int("worker", id), zap.Error(err))
				break
			}
			if !processed {
				break
			}
		}
	}
}

// Stop halts the workers and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
	q.log.Info("workers stopped")
}
