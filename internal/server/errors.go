package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantplane/internal/pool"
	"github.com/smallbiznis/tenantplane/internal/provisioning"
	"github.com/smallbiznis/tenantplane/internal/provisioning/queue"
	quotadomain "github.com/smallbiznis/tenantplane/internal/quota/domain"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"github.com/smallbiznis/tenantplane/internal/resolver"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, resolver.ErrAuth):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, registrydomain.ErrInvalidTransition),
		errors.Is(err, registrydomain.ErrInvalidStatus),
		errors.Is(err, registrydomain.ErrNotDeleted),
		errors.Is(err, queue.ErrJobState),
		errors.Is(err, queue.ErrJobBusy),
		errors.Is(err, provisioning.ErrEmailTaken),
		errors.Is(err, provisioning.ErrSlugGeneration):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, registrydomain.ErrTenantNotFound),
		errors.Is(err, quotadomain.ErrTenantNotFound),
		errors.Is(err, queue.ErrJobNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, provisioning.ErrMissingField),
		errors.Is(err, quotadomain.ErrUnknownResource),
		errors.Is(err, quotadomain.ErrNegativeDelta):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, quotadomain.ErrExceeded):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "quota_exceeded",
			Message: err.Error(),
		}
	case errors.Is(err, pool.ErrExhausted):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "connection pool exhausted",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
