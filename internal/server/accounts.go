package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/inkwell-ai/inkwell/internal/account/domain"
	auditdomain "github.com/inkwell-ai/inkwell/internal/audit/domain"
)

// ProvisionAccount creates a studio account with its starter API key. The
// plaintext key appears in this response and nowhere else.
func (s *Server) ProvisionAccount(c *gin.Context) {
	var req accountdomain.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.Provision(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The trail row lands on the new account, not the provisioning admin's,
	// so the studio sees who created it and with which key.
	if newID, err := snowflake.ParseString(resp.Account.ID); err == nil {
		_ = s.auditSvc.Record(c.Request.Context(), &newID, "", nil,
			auditdomain.ActionAccountProvisioned, "account", &resp.Account.ID,
			map[string]any{"handle": resp.Account.Handle},
		)
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetMyAccount(c *gin.Context) {
	profile, err := s.accountSvc.Get(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, profile)
}
