package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
	Get(ctx context.Context) (*Profile, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Profile, error)
}

type ProvisionRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type ProvisionResponse struct {
	Account Profile `json:"account"`
	KeyID   string  `json:"key_id"`
	APIKey  string  `json:"api_key"`
}

// Profile is the caller-facing account view. Tier is the charging tier
// effective at read time, not the stored flag.
type Profile struct {
	ID              string     `json:"id"`
	Handle          string     `json:"handle"`
	DisplayName     string     `json:"display_name"`
	Email           string     `json:"email"`
	TokenBalance    int64      `json:"token_balance"`
	CreditsUsed     int64      `json:"credits_used"`
	TotalSpentMinor int64      `json:"total_spent_minor"`
	Tier            string     `json:"tier"`
	ProExpiresAt    *time.Time `json:"pro_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

var (
	ErrAccountNotFound     = errors.New("account_not_found")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidEmail        = errors.New("invalid_email")
)
