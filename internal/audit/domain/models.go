// Package domain contains the audit trail model and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwell-ai/inkwell/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actor types recorded on audit entries.
const (
	ActorTypeAPIKey  = "api_key"
	ActorTypeGateway = "gateway"
	ActorTypeSystem  = "system"
)

// Actions written by the HTTP layer.
const (
	ActionAccountProvisioned = "account.provisioned"
	ActionAPIKeyCreated      = "api_key.created"
	ActionAPIKeyRotated      = "api_key.rotated"
	ActionAPIKeyRevoked      = "api_key.revoked"
	ActionAuthRejected       = "auth.rejected"
	ActionWebhookRejected    = "webhook.rejected"
	ActionSettlementApplied  = "settlement.applied"
	ActionSettlementIgnored  = "settlement.ignored"
)

// AuditLog is one append-only trail row. AccountID is null for entries
// written before a principal was established, such as rejected webhooks and
// unknown API keys.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID  *snowflake.ID     `gorm:"column:account_id" json:"account_id"`
	ActorType  string            `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:text" json:"actor_id"`
	Action     string            `gorm:"type:text;not null" json:"action"`
	TargetType string            `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:text" json:"target_id"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	IPAddress  *string           `gorm:"column:ip_address;type:text" json:"ip_address"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor is the keyset position for audit listing.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	AccountID  snowflake.ID
	Action     string
	TargetType string
	Cursor     *AuditCursor
	Limit      int
}

type ListRequest struct {
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	pagination.Pagination
}

type ListResponse struct {
	AuditLogs []AuditLog          `json:"audit_logs"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

// Service appends trail rows and lists them for the authenticated account.
// Record never fails the request it documents; callers discard its error.
type Service interface {
	Record(ctx context.Context, accountID *snowflake.ID, actorType string, actorID *string, action, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
