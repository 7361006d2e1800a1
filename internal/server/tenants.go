package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantplane/internal/cache"
	quotadomain "github.com/smallbiznis/tenantplane/internal/quota/domain"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/pkg/db/pagination"
)

type tenantResponse struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Plan        string     `json:"plan"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	SuspendedAt *time.Time `json:"suspended_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func toTenantResponse(t *registrydomain.Tenant) tenantResponse {
	created := t.CreatedAt
	return tenantResponse{
		ID:          t.ID.String(),
		Slug:        t.Slug,
		Name:        t.Name,
		Status:      string(t.Status),
		Plan:        string(t.Plan),
		CreatedAt:   &created,
		SuspendedAt: t.SuspendedAt,
		DeletedAt:   t.DeletedAt,
	}
}

// ListTenants pages through the registry for operators, optionally
// filtered by status.
func (s *Server) ListTenants(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if page.PageSize < 1 || page.PageSize > 250 {
		page.PageSize = 50
	}

	var afterID snowflake.ID
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: malformed page token", ErrInvalidRequest))
			return
		}
		if afterID, err = snowflake.ParseString(cursor.ID); err != nil {
			AbortWithError(c, fmt.Errorf("%w: malformed page token", ErrInvalidRequest))
			return
		}
	}

	tenants, err := s.repo.ListTenants(c.Request.Context(),
		registrydomain.Status(c.Query("status")), afterID, page.PageSize+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tenants, info := pagination.BuildPageInfo(tenants, page.PageSize, func(t registrydomain.Tenant) string {
		return t.ID.String()
	})
	out := make([]tenantResponse, 0, len(tenants))
	for i := range tenants {
		out = append(out, toTenantResponse(&tenants[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out, "page_info": info})
}

// GetTenant looks a tenant up by snowflake ID or slug. Slug lookups are
// served from the snapshot cache when fresh; registry reads prime it.
// Deleted tenants are reported as not found.
func (s *Server) GetTenant(c *gin.Context) {
	key := strings.TrimSpace(c.Param("idOrSlug"))
	if snap, ok := s.tenantCache.GetBySlug(c.Request.Context(), strings.ToLower(key)); ok {
		if snap.Status == string(registrydomain.StatusActive) {
			c.JSON(http.StatusOK, tenantResponse{
				ID:     snap.ID.String(),
				Slug:   snap.Slug,
				Name:   snap.Name,
				Status: snap.Status,
				Plan:   snap.Plan,
			})
			return
		}
	}

	tenant, err := s.registrySvc.Find(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tenant.Status == registrydomain.StatusDeleted {
		AbortWithError(c, registrydomain.ErrTenantNotFound)
		return
	}
	if tenant.Status == registrydomain.StatusActive {
		s.tenantCache.Set(c.Request.Context(), cache.SnapshotOf(tenant))
	}
	c.JSON(http.StatusOK, toTenantResponse(tenant))
}

func (s *Server) tenantIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: malformed tenant id", ErrInvalidRequest))
		return 0, false
	}
	return id, true
}

func (s *Server) SuspendTenant(c *gin.Context) {
	id, ok := s.tenantIDParam(c)
	if !ok {
		return
	}
	tenant, err := s.lifecycleSvc.Suspend(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTenantResponse(tenant))
}

func (s *Server) ActivateTenant(c *gin.Context) {
	id, ok := s.tenantIDParam(c)
	if !ok {
		return
	}
	tenant, err := s.lifecycleSvc.Activate(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTenantResponse(tenant))
}

type attachUserRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// AttachUser joins an externally managed identity to a tenant. The active
// user quota is enforced here so provider-driven joins cannot bypass it.
func (s *Server) AttachUser(c *gin.Context) {
	id, ok := s.tenantIDParam(c)
	if !ok {
		return
	}
	var req attachUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	check, err := s.quotaSvc.Check(c.Request.Context(), id, quotadomain.ResourceUsers, 1)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !check.Allowed {
		AbortWithError(c, fmt.Errorf("%w: %s", quotadomain.ErrExceeded, check.Reason))
		return
	}

	user, err := s.provisioner.AttachUser(c.Request.Context(), id,
		strings.ToLower(strings.TrimSpace(req.Email)), req.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        user.ID.String(),
		"email":     user.Email,
		"tenant_id": user.TenantID.String(),
		"role":      user.Role,
	})
}

func (s *Server) DeleteTenant(c *gin.Context) {
	id, ok := s.tenantIDParam(c)
	if !ok {
		return
	}
	purge := c.Query("purge") == "true"
	tenant, err := s.lifecycleSvc.Delete(c.Request.Context(), id, purge)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTenantResponse(tenant))
}
