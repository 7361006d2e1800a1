package server

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantplane/internal/resolver"
	"github.com/smallbiznis/tenantplane/internal/tenantctx"
)

const tenantContextKey = "tenant_context"

// TenantAuthMiddleware resolves the bearer token into a full tenant
// context, connection pool included, and attaches it to the request.
func (s *Server) TenantAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, fmt.Errorf("%w: missing bearer token", resolver.ErrAuth))
			return
		}

		tenant, err := s.resolverSvc.FromToken(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(tenantContextKey, tenant)
		c.Request = c.Request.WithContext(tenantctx.WithTenant(c.Request.Context(), tenant))
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func currentTenant(c *gin.Context) *tenantctx.Tenant {
	v, ok := c.Get(tenantContextKey)
	if !ok {
		return nil
	}
	tenant, _ := v.(*tenantctx.Tenant)
	return tenant
}
