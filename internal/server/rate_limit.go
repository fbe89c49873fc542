package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	"github.com/inkwell-ai/inkwell/internal/ratelimit"
)

// ChargeRateLimit applies the per-account token bucket to sync usage
// charges. The limiter fails open, so a denied result is always a real
// budget exhaustion.
func (s *Server) ChargeRateLimit() gin.HandlerFunc {
	return s.rateLimitMiddleware("usage_charge", func(c *gin.Context) *ratelimit.Result {
		accountID, ok := accountctx.AccountIDFromContext(c.Request.Context())
		if !ok {
			return &ratelimit.Result{Allowed: true}
		}
		return s.limiter.AllowCharge(c.Request.Context(), accountID)
	})
}

// PollRateLimit applies the per-account token bucket to generation polls.
func (s *Server) PollRateLimit() gin.HandlerFunc {
	return s.rateLimitMiddleware("generation_poll", func(c *gin.Context) *ratelimit.Result {
		accountID, ok := accountctx.AccountIDFromContext(c.Request.Context())
		if !ok {
			return &ratelimit.Result{Allowed: true}
		}
		return s.limiter.AllowPoll(c.Request.Context(), accountID)
	})
}

func (s *Server) rateLimitMiddleware(endpoint string, allow func(*gin.Context) *ratelimit.Result) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		result := allow(c)
		if result == nil || result.Allowed {
			s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), endpoint)
			c.Next()
			return
		}

		s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), endpoint, "bucket_exhausted")
		retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
		}})
	}
}
