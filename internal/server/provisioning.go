package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantplane/internal/password"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
)

// registerRequest accepts either a full credential pair or, for tenants
// whose users live in an external identity provider, just the
// organization plus its external org ID.
type registerRequest struct {
	OrganizationName string `json:"organization_name" binding:"required"`
	AdminEmail       string `json:"admin_email" binding:"omitempty,email"`
	AdminPassword    string `json:"admin_password" binding:"omitempty,min=8"`
	Plan             string `json:"plan"`
	ExternalOrgID    string `json:"external_org_id"`
}

func (r registerRequest) plan() (registrydomain.Plan, error) {
	switch registrydomain.Plan(r.Plan) {
	case "", registrydomain.PlanFree:
		return registrydomain.PlanFree, nil
	case registrydomain.PlanPro:
		return registrydomain.PlanPro, nil
	case registrydomain.PlanEnterprise:
		return registrydomain.PlanEnterprise, nil
	default:
		return "", fmt.Errorf("%w: unknown plan %q", ErrInvalidRequest, r.Plan)
	}
}

// Register is the public signup entry point. It provisions the tenant
// inline and returns once the tenant is active, so a signup that comes
// back 201 is immediately usable.
func (s *Server) Register(c *gin.Context) {
	preq, ok := s.bindProvisionRequest(c)
	if !ok {
		return
	}
	result, err := s.provisioner.Provision(c.Request.Context(), preq, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	resp := gin.H{
		"tenant_id": result.TenantID.String(),
		"slug":      result.Slug,
	}
	if result.AdminUserID != 0 {
		resp["admin_user_id"] = result.AdminUserID.String()
	}
	c.JSON(http.StatusCreated, resp)
}

// EnqueueProvisioning is the operator-facing async variant of Register:
// it queues the work and returns the job record for polling.
func (s *Server) EnqueueProvisioning(c *gin.Context) {
	preq, ok := s.bindProvisionRequest(c)
	if !ok {
		return
	}
	job, err := s.jobs.Enqueue(c.Request.Context(), preq)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) bindProvisionRequest(c *gin.Context) (provisioning.Request, bool) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return provisioning.Request{}, false
	}
	plan, err := req.plan()
	if err != nil {
		AbortWithError(c, err)
		return provisioning.Request{}, false
	}

	// Neither the job row nor the request struct may hold a plaintext
	// credential, so hashing happens here at the edge.
	var hash string
	if req.AdminPassword != "" {
		if hash, err = password.Hash(req.AdminPassword); err != nil {
			AbortWithError(c, err)
			return provisioning.Request{}, false
		}
	}

	return provisioning.Request{
		OrganizationName:  strings.TrimSpace(req.OrganizationName),
		AdminEmail:        strings.ToLower(strings.TrimSpace(req.AdminEmail)),
		AdminPasswordHash: hash,
		Plan:              plan,
		ExternalOrgID:     req.ExternalOrgID,
	}, true
}

func (s *Server) GetProvisioningJob(c *gin.Context) {
	job, err := s.jobs.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: errorPayload{
			Type:    "not_found",
			Message: "not found",
		}})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) RetryProvisioningJob(c *gin.Context) {
	job, err := s.jobs.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) RemoveProvisioningJob(c *gin.Context) {
	if err := s.jobs.Remove(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
