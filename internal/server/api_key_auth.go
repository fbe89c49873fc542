package server

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	auditdomain "github.com/inkwell-ai/inkwell/internal/audit/domain"
	obscontext "github.com/inkwell-ai/inkwell/internal/observability/context"
	"github.com/lib/pq"
)

const (
	contextAuthTypeKey     = "auth_type"
	contextAccountIDKey    = "account_id"
	contextAPIKeyIDKey     = "api_key_id"
	contextAPIKeyScopesKey = "api_key_scopes"
)

// lastUsedStaleness bounds how often an authenticated request writes the
// key's last_used_at back; the column is advisory, not an audit trail.
const lastUsedStaleness = time.Minute

// APIKeyRequired authenticates requests with a bearer API key. Account
// identity is derived solely from the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			s.auditAuthRejected(c, "missing_authorization")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			s.auditAuthRejected(c, "malformed_authorization")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		hash := apikeydomain.HashAPIKey(parts[1])
		now := s.clock.Now()

		var record struct {
			ID         snowflake.ID   `gorm:"column:id"`
			AccountID  snowflake.ID   `gorm:"column:account_id"`
			KeyID      string         `gorm:"column:key_id"`
			KeyHash    string         `gorm:"column:key_hash"`
			Scopes     pq.StringArray `gorm:"column:scopes"`
			LastUsedAt *time.Time     `gorm:"column:last_used_at"`
		}

		if err := s.db.WithContext(c.Request.Context()).Raw(
			`SELECT id, account_id, key_id, key_hash, scopes, last_used_at
			 FROM api_keys
			 WHERE key_hash = ?
			   AND is_active = true
			   AND (expires_at IS NULL OR expires_at > ?)
			 LIMIT 1`,
			hash,
			now,
		).Scan(&record).Error; err != nil {
			AbortWithError(c, err)
			return
		}

		if record.ID == 0 || subtle.ConstantTimeCompare([]byte(record.KeyHash), []byte(hash)) != 1 {
			s.auditAuthRejected(c, "unknown_key")
			AbortWithError(c, ErrUnauthorized)
			return
		}

		s.touchLastUsed(c.Request.Context(), record.ID, record.LastUsedAt, now)

		ctx := c.Request.Context()
		scopes := make([]string, 0, len(record.Scopes))
		scopes = append(scopes, record.Scopes...)
		ctx = context.WithValue(ctx, contextAuthTypeKey, auditdomain.ActorTypeAPIKey)
		ctx = context.WithValue(ctx, contextAccountIDKey, int64(record.AccountID))
		ctx = context.WithValue(ctx, contextAPIKeyIDKey, int64(record.ID))
		ctx = context.WithValue(ctx, contextAPIKeyScopesKey, scopes)
		ctx = accountctx.WithAccountID(ctx, int64(record.AccountID))
		ctx = obscontext.WithAccountID(ctx, record.AccountID.String())
		ctx = obscontext.WithActor(ctx, auditdomain.ActorTypeAPIKey, record.KeyID)

		c.Set(contextAPIKeyScopesKey, scopes)
		c.Set(contextAPIKeyIDKey, record.KeyID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) touchLastUsed(ctx context.Context, id snowflake.ID, lastUsed *time.Time, now time.Time) {
	if lastUsed != nil && now.Sub(*lastUsed) < lastUsedStaleness {
		return
	}
	if err := s.db.WithContext(ctx).Exec(
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		now, id,
	).Error; err != nil {
		s.log.Debug("last_used_at update failed")
	}
}

func (s *Server) auditAuthRejected(c *gin.Context, reason string) {
	if s.auditSvc == nil {
		return
	}
	ctx := obscontext.WithClientIP(c.Request.Context(), c.ClientIP())
	_ = s.auditSvc.Record(ctx, nil, auditdomain.ActorTypeSystem, nil,
		auditdomain.ActionAuthRejected, "api_key", nil,
		map[string]any{"reason": reason, "path": c.Request.URL.Path},
	)
}

func apiKeyScopes(c *gin.Context) []string {
	value, ok := c.Get(contextAPIKeyScopesKey)
	if !ok {
		return nil
	}
	scopes, ok := value.([]string)
	if !ok {
		return nil
	}
	return scopes
}
