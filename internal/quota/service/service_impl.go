package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/clock"
	obsmetrics "github.com/smallbiznis/tenantplane/internal/observability/metrics"
	"github.com/smallbiznis/tenantplane/internal/quota/domain"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const bytesPerGB = float64(1 << 30)

// overridesKey is where quota overrides live inside the settings blob.
const overridesKey = "quotas"

type service struct {
	db   *gorm.DB
	repo registrydomain.Repository
	clk  clock.Clock
	log  *zap.Logger
}

func NewService(db *gorm.DB, repo registrydomain.Repository, clk clock.Clock, log *zap.Logger) domain.Service {
	return &service{
		db:   db,
		repo: repo,
		clk:  clk,
		log:  log.Named("quota"),
	}
}

func (s *service) EffectiveLimits(ctx context.Context, tenantID snowflake.ID) (domain.Limits, error) {
	tenant, err := s.repo.GetTenantByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Limits{}, domain.ErrTenantNotFound
		}
		return domain.Limits{}, err
	}

	limits := domain.PlanLimits(tenant.Plan)

	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return limits, nil
		}
		return domain.Limits{}, err
	}

	overrides, err := decodeOverrides(settings.Settings)
	if err != nil {
		s.log.Warn("quota overrides malformed, using plan defaults",
			zap.String("tenant_id", tenantID.String()),
			zap.Error(err),
		)
		return limits, nil
	}
	return overrides.Apply(limits), nil
}

func (s *service) Check(ctx context.Context, tenantID snowflake.ID, resource domain.Resource, increment float64) (domain.CheckResult, error) {
	switch resource {
	case domain.ResourceStorage, domain.ResourceUsers, domain.ResourceAPICalls, domain.ResourceCustomObjects:
	default:
		return domain.CheckResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownResource, resource)
	}

	limits, err := s.EffectiveLimits(ctx, tenantID)
	if err != nil {
		return domain.CheckResult{}, err
	}

	current, err := s.currentUsage(ctx, tenantID, resource)
	if err != nil {
		return domain.CheckResult{}, err
	}

	limit := limits.Limit(resource)
	next := current + increment
	percent := 0.0
	if limit > 0 {
		percent = next / limit * 100
	}

	result := domain.CheckResult{
		Allowed:     next <= limit,
		Current:     current,
		Limit:       limit,
		PercentUsed: percent,
	}
	if !result.Allowed {
		result.Reason = fmt.Sprintf("%s quota exceeded: limit %g, current %g", resource, limit, current)
		obsmetrics.ControlPlane().IncQuotaDenied(string(resource))
	}
	return result, nil
}

func (s *service) currentUsage(ctx context.Context, tenantID snowflake.ID, resource domain.Resource) (float64, error) {
	usage, err := s.repo.GetUsage(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.ErrTenantNotFound
		}
		return 0, err
	}

	switch resource {
	case domain.ResourceStorage:
		return float64(usage.StorageBytes) / bytesPerGB, nil
	case domain.ResourceUsers:
		return float64(usage.ActiveUsers), nil
	case domain.ResourceAPICalls:
		return float64(usage.APICalls), nil
	case domain.ResourceCustomObjects:
		// Custom objects live in tenant storage; the counter is not yet
		// mirrored into tenant_usage.
		return 0, nil
	default:
		return 0, domain.ErrUnknownResource
	}
}

// UpdateUsage applies a usage report: gauges (storage, users) are set to the
// reported absolute value, counters (API calls) accumulate.
func (s *service) UpdateUsage(ctx context.Context, tenantID snowflake.ID, deltas domain.UsageDeltas) error {
	if deltas.StorageBytes == nil && deltas.ActiveUsers == nil && deltas.APICalls == nil {
		return nil
	}
	if (deltas.StorageBytes != nil && *deltas.StorageBytes < 0) ||
		(deltas.ActiveUsers != nil && *deltas.ActiveUsers < 0) ||
		(deltas.APICalls != nil && *deltas.APICalls < 0) {
		return domain.ErrNegativeDelta
	}

	now := s.clk.Now()
	updates := map[string]any{
		"last_activity_at": now,
		"updated_at":       now,
	}
	if deltas.StorageBytes != nil {
		updates["storage_bytes"] = *deltas.StorageBytes
	}
	if deltas.ActiveUsers != nil {
		updates["active_users"] = *deltas.ActiveUsers
	}
	if deltas.APICalls != nil {
		updates["api_calls"] = gorm.Expr("api_calls + ?", *deltas.APICalls)
	}

	result := s.db.WithContext(ctx).Model(&registrydomain.TenantUsage{}).
		Where("tenant_id = ?", tenantID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// ResetAPICalls zeroes the call counter and stamps a new reset timestamp.
// Runs on a monthly cadence from the scheduler.
func (s *service) ResetAPICalls(ctx context.Context, tenantID snowflake.ID) error {
	now := s.clk.Now()
	result := s.db.WithContext(ctx).Model(&registrydomain.TenantUsage{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"api_calls":          0,
			"api_calls_reset_at": now,
			"updated_at":         now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrTenantNotFound
	}
	s.log.Info("api call counter reset", zap.String("tenant_id", tenantID.String()))
	return nil
}

// TenantsNearingLimit scans active tenants and flags any dimension at or
// above the threshold. Reporting only; enforcement happens in Check.
func (s *service) TenantsNearingLimit(ctx context.Context, threshold float64) ([]domain.Warning, error) {
	thresholdPercent := threshold * 100
	tenants, err := s.repo.ListTenantsByStatus(ctx, registrydomain.StatusActive)
	if err != nil {
		return nil, err
	}

	warnings := make([]domain.Warning, 0)
	for _, tenant := range tenants {
		limits, err := s.EffectiveLimits(ctx, tenant.ID)
		if err != nil {
			return nil, err
		}
		usage, err := s.repo.GetUsage(ctx, tenant.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		warning := domain.Warning{
			TenantID: tenant.ID.String(),
			Slug:     tenant.Slug,
			Name:     tenant.Name,
			Plan:     string(tenant.Plan),
		}
		flagged := false
		if p := percentOf(float64(usage.StorageBytes)/bytesPerGB, limits.Storage); p >= thresholdPercent {
			warning.StoragePercent = &p
			flagged = true
		}
		if p := percentOf(float64(usage.ActiveUsers), float64(limits.Users)); p >= thresholdPercent {
			warning.UsersPercent = &p
			flagged = true
		}
		if p := percentOf(float64(usage.APICalls), float64(limits.APICalls)); p >= thresholdPercent {
			warning.APIPercent = &p
			flagged = true
		}
		if flagged {
			warnings = append(warnings, warning)
		}
	}
	return warnings, nil
}

func (s *service) SetOverrides(ctx context.Context, tenantID snowflake.ID, overrides domain.Overrides) error {
	settings, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrTenantNotFound
		}
		return err
	}

	encoded, err := json.Marshal(overrides)
	if err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(encoded, &raw); err != nil {
		return err
	}

	if settings.Settings == nil {
		settings.Settings = datatypes.JSONMap{}
	}
	settings.Settings[overridesKey] = raw
	settings.UpdatedAt = time.Now().UTC()
	return s.repo.UpdateSettings(ctx, *settings)
}

func decodeOverrides(settings datatypes.JSONMap) (domain.Overrides, error) {
	var overrides domain.Overrides
	raw, ok := settings[overridesKey]
	if !ok || raw == nil {
		return overrides, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return overrides, err
	}
	if err := json.Unmarshal(encoded, &overrides); err != nil {
		return overrides, err
	}
	return overrides, nil
}

func percentOf(current, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return current / limit * 100
}
