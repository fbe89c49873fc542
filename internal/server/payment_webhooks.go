package server

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/inkwell-ai/inkwell/internal/audit/domain"
	obscontext "github.com/inkwell-ai/inkwell/internal/observability/context"
	paymentdomain "github.com/inkwell-ai/inkwell/internal/payment/domain"
	"github.com/inkwell-ai/inkwell/internal/payment/gateway"
	"go.uber.org/zap"
)

// HandleBankWebhook ingests a settlement notification. Authentication is an
// HMAC over the raw body; past that gate the gateway always gets a 200 ack,
// whatever the reconciliation outcome, so it never retries a delivery we
// have already judged.
func (s *Server) HandleBankWebhook(c *gin.Context) {
	ctx := obscontext.WithClientIP(c.Request.Context(), c.ClientIP())
	ctx = obscontext.WithActor(ctx, auditdomain.ActorTypeGateway, "")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.rejectWebhook(c, ctx, "unreadable_body")
		return
	}

	if err := s.verifier.Verify(body, c.GetHeader(gateway.SignatureHeader)); err != nil {
		reason := "invalid_signature"
		if err == gateway.ErrNotConfigured {
			reason = "secret_not_configured"
		}
		s.rejectWebhook(c, ctx, reason)
		return
	}

	notif, err := gateway.ParseNotification(body)
	if err != nil {
		// Authenticated but malformed; retrying the same body cannot
		// succeed, so acknowledge and keep the evidence in the logs.
		s.log.Warn("settlement notification unparseable", zap.Error(err))
		_ = s.auditSvc.Record(ctx, nil, auditdomain.ActorTypeGateway, nil,
			auditdomain.ActionSettlementIgnored, "payment", nil,
			map[string]any{"reason": "invalid_payload"},
		)
		c.JSON(http.StatusOK, gin.H{"acknowledged": true})
		return
	}

	outcome, err := s.paymentSvc.HandleSettlement(ctx, *notif)
	if err != nil && outcome != paymentdomain.OutcomeApplied {
		s.log.Error("settlement processing failed",
			zap.String("outcome", outcome),
			zap.String("gateway", notif.GatewayName),
			zap.Error(err),
		)
	}

	action := auditdomain.ActionSettlementIgnored
	if outcome == paymentdomain.OutcomeApplied {
		action = auditdomain.ActionSettlementApplied
	}
	_ = s.auditSvc.Record(ctx, nil, auditdomain.ActorTypeGateway, nil,
		action, "payment", &notif.GatewayNotificationID,
		map[string]any{"gateway": notif.GatewayName, "outcome": outcome},
	)

	c.JSON(http.StatusOK, gin.H{"acknowledged": true})
}

func (s *Server) rejectWebhook(c *gin.Context, ctx context.Context, reason string) {
	s.obsMetrics.RecordWebhookRejected(ctx, reason)
	_ = s.auditSvc.Record(ctx, nil, auditdomain.ActorTypeGateway, nil,
		auditdomain.ActionWebhookRejected, "payment", nil,
		map[string]any{"reason": reason},
	)
	s.log.Warn("settlement webhook rejected",
		zap.String("reason", reason),
		zap.String("remote_ip", c.ClientIP()),
	)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"acknowledged": false})
}
