package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PoolStats reports every open tenant pool for operators.
func (s *Server) PoolStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.pools.Stats())
}
