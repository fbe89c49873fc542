// Package domain contains the usage metering model and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionImageGeneration = "image_generation"
	ActionChatCompletion  = "chat_completion"
	ActionChatStream      = "chat_stream"
)

// Charge outcomes. AlreadyApplied is the successful no-op a repeated
// observation of an already billed job resolves to.
const (
	OutcomeApplied         = "applied"
	OutcomeAlreadyApplied  = "already_applied"
	OutcomeFailureRecorded = "failure_recorded"
)

// UsageRecord is one append-only metering row. Successful async charges are
// deduplicated by the partial unique index over (account_id, action_kind,
// external_job_id); failure rows have no financial effect and stay outside
// the index.
type UsageRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID      snowflake.ID      `gorm:"column:account_id;not null;index" json:"account_id"`
	ActionKind     string            `gorm:"column:action_kind;type:text;not null" json:"action_kind"`
	CreditsCharged int64             `gorm:"column:credits_charged;not null" json:"credits_charged"`
	CostMinor      int64             `gorm:"column:cost_minor;not null" json:"cost_minor"`
	Success        bool              `gorm:"not null" json:"success"`
	ExternalJobID  *string           `gorm:"column:external_job_id;type:text" json:"external_job_id"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// KnownAction reports whether kind is a meterable action.
func KnownAction(kind string) bool {
	switch kind {
	case ActionImageGeneration, ActionChatCompletion, ActionChatStream:
		return true
	}
	return false
}

type ChargeResult struct {
	CreditsCharged int64 `json:"credits_charged"`
	CostMinor      int64 `json:"cost_minor"`
	Balance        int64 `json:"balance"`
}

type Response struct {
	ID             string            `json:"id"`
	ActionKind     string            `json:"action_kind"`
	CreditsCharged int64             `json:"credits_charged"`
	CostMinor      int64             `json:"cost_minor"`
	Success        bool              `json:"success"`
	ExternalJobID  *string           `json:"external_job_id,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type Service interface {
	ChargeSync(ctx context.Context, accountID snowflake.ID, actionKind string, tokensConsumed int64, metadata map[string]any) (*ChargeResult, error)
	ChargeAsyncFirstOutcome(ctx context.Context, accountID snowflake.ID, actionKind string, externalJobID string, succeeded bool, metadata map[string]any) (string, error)
	History(ctx context.Context) ([]Response, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	InsertIdempotent(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindSuccessByJob(ctx context.Context, db *gorm.DB, accountID snowflake.ID, actionKind string, externalJobID string) (*UsageRecord, error)
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]UsageRecord, error)
}

var (
	ErrInvalidAccount    = errors.New("invalid_account")
	ErrInvalidActionKind = errors.New("invalid_action_kind")
	ErrInvalidTokens     = errors.New("invalid_tokens")
	ErrInvalidJobID      = errors.New("invalid_job_id")
)
