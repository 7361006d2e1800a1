package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/smallbiznis/tenantplane/internal/quota/domain"
	"github.com/smallbiznis/tenantplane/internal/resolver"
)

// GetQuotas returns the effective limits for the authenticated tenant,
// plan defaults with any operator overrides applied.
func (s *Server) GetQuotas(c *gin.Context) {
	tenant := currentTenant(c)
	if tenant == nil {
		AbortWithError(c, fmt.Errorf("%w: no tenant context", resolver.ErrAuth))
		return
	}
	limits, err := s.quotaSvc.EffectiveLimits(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

type quotaCheckRequest struct {
	Resource  string  `json:"resource" binding:"required"`
	Increment float64 `json:"increment"`
}

// CheckQuota evaluates whether the tenant may consume additional units of
// a resource. It never mutates usage; callers commit via ReportUsage.
func (s *Server) CheckQuota(c *gin.Context) {
	tenant := currentTenant(c)
	if tenant == nil {
		AbortWithError(c, fmt.Errorf("%w: no tenant context", resolver.ErrAuth))
		return
	}
	var req quotaCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	result, err := s.quotaSvc.Check(c.Request.Context(), tenant.ID, quotadomain.Resource(req.Resource), req.Increment)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ReportUsage records usage movements for the authenticated tenant.
// Storage and user counts are absolute gauges; API calls accumulate.
func (s *Server) ReportUsage(c *gin.Context) {
	tenant := currentTenant(c)
	if tenant == nil {
		AbortWithError(c, fmt.Errorf("%w: no tenant context", resolver.ErrAuth))
		return
	}
	var deltas quotadomain.UsageDeltas
	if err := c.ShouldBindJSON(&deltas); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := s.quotaSvc.UpdateUsage(c.Request.Context(), tenant.ID, deltas); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetTenantQuotas is the operator view of a tenant's effective limits.
func (s *Server) GetTenantQuotas(c *gin.Context) {
	id, ok := s.tenantIDParam(c)
	if !ok {
		return
	}
	limits, err := s.quotaSvc.EffectiveLimits(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

// SetQuotaOverrides replaces the per-tenant quota overrides.
func (s *Server) SetQuotaOverrides(c *gin.Context) {
	id, ok := s.tenantIDParam(c)
	if !ok {
		return
	}
	var overrides quotadomain.Overrides
	if err := c.ShouldBindJSON(&overrides); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if err := s.quotaSvc.SetOverrides(c.Request.Context(), id, overrides); err != nil {
		AbortWithError(c, err)
		return
	}
	limits, err := s.quotaSvc.EffectiveLimits(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, limits)
}

// QuotaWarnings lists tenants at or above 80 percent of any limit.
func (s *Server) QuotaWarnings(c *gin.Context) {
	warnings, err := s.quotaSvc.TenantsNearingLimit(c.Request.Context(), 0.8)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": warnings})
}
