package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListPlans returns the static catalog; token-count plans are synthesized
// on demand and do not appear here.
func (s *Server) ListPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.planSvc.List(c.Request.Context())})
}
