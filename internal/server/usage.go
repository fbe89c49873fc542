package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
)

type chargeUsageRequest struct {
	ActionKind     string         `json:"action_kind"`
	TokensConsumed int64          `json:"tokens_consumed"`
	Metadata       map[string]any `json:"metadata"`
}

// ChargeUsage debits the caller synchronously for a metered action.
func (s *Server) ChargeUsage(c *gin.Context) {
	var req chargeUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if actionKind := strings.TrimSpace(req.ActionKind); actionKind != "" {
		c.Set("action_kind", actionKind)
	}

	accountID, ok := accountctx.AccountIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.usageSvc.ChargeSync(c.Request.Context(), accountID, req.ActionKind, req.TokensConsumed, req.Metadata)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListUsage(c *gin.Context) {
	items, err := s.usageSvc.History(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage": items})
}
