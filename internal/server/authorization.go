package server

import (
	"github.com/gin-gonic/gin"
)

// requireCapability gates a route on the authenticated key's scopes granting
// the object and action pair. Runs after APIKeyRequired.
func (s *Server) requireCapability(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes := apiKeyScopes(c)
		if len(scopes) == 0 {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), scopes, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
