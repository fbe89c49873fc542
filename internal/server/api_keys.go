package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	auditdomain "github.com/inkwell-ai/inkwell/internal/audit/domain"
)

func (s *Server) ListAPIKeys(c *gin.Context) {
	keys, err := s.apiKeySvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	_ = s.auditSvc.Record(c.Request.Context(), nil, "", nil,
		auditdomain.ActionAPIKeyCreated, "api_key", &resp.KeyID,
		map[string]any{"name": req.Name},
	)

	c.JSON(http.StatusCreated, resp)
}

// RotateAPIKey issues a replacement secret; the old key keeps working
// through a short grace window so deployed callers can switch over.
func (s *Server) RotateAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if keyID == "" {
		AbortWithError(c, newValidationError("key_id", "invalid_key_id", "key_id is required"))
		return
	}

	resp, err := s.apiKeySvc.Rotate(c.Request.Context(), keyID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	_ = s.auditSvc.Record(c.Request.Context(), nil, "", nil,
		auditdomain.ActionAPIKeyRotated, "api_key", &resp.KeyID,
		map[string]any{"rotated_from": keyID},
	)

	c.JSON(http.StatusOK, resp)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID := strings.TrimSpace(c.Param("key_id"))
	if keyID == "" {
		AbortWithError(c, newValidationError("key_id", "invalid_key_id", "key_id is required"))
		return
	}

	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	_ = s.auditSvc.Record(c.Request.Context(), nil, "", nil,
		auditdomain.ActionAPIKeyRevoked, "api_key", &keyID, nil,
	)

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}
