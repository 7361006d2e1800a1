package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantplane/internal/password"
	"github.com/smallbiznis/tenantplane/internal/resolver"
	"go.uber.org/zap"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token  string         `json:"token"`
	Tenant tenantResponse `json:"tenant"`
}

// Login authenticates against the global user table and issues a tenant
// scoped access token. The registry is read directly so a suspension takes
// effect immediately, not after the cache TTL.
func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	tenant, user, err := s.resolverSvc.FromEmail(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if user.PasswordHash == nil || !password.Verify(req.Password, *user.PasswordHash) {
		AbortWithError(c, fmt.Errorf("%w: invalid credentials", resolver.ErrAuth))
		return
	}

	token, err := s.resolverSvc.IssueToken(user.ID, user.Email, tenant.ID, user.Role)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.repo.TouchLastLogin(c.Request.Context(), user.ID); err != nil {
		s.log.Warn("touch last login failed", zap.String("email", email), zap.Error(err))
	}

	c.JSON(http.StatusOK, loginResponse{
		Token: token,
		Tenant: tenantResponse{
			ID:     tenant.ID.String(),
			Slug:   tenant.Slug,
			Name:   tenant.Name,
			Status: tenant.Status,
			Plan:   tenant.Plan,
		},
	})
}

// Me returns the resolved tenant context for the presented token.
func (s *Server) Me(c *gin.Context) {
	tenant := currentTenant(c)
	if tenant == nil {
		AbortWithError(c, fmt.Errorf("%w: no tenant context", resolver.ErrAuth))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant": tenantResponse{
			ID:     tenant.ID.String(),
			Slug:   tenant.Slug,
			Name:   tenant.Name,
			Status: tenant.Status,
			Plan:   tenant.Plan,
		},
	})
}
