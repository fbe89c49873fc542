package domain

import (
	"context"
	"errors"
	"time"
)

const (
	ScopeBillingRead     = "billing:read"
	ScopeBillingWrite    = "billing:write"
	ScopeUsageWrite      = "usage:write"
	ScopeGenerationWrite = "generation:write"
	ScopeKeysManage      = "keys:manage"
	ScopeAdmin           = "admin"
)

// KnownScopes enumerates every scope a key may request.
var KnownScopes = []string{
	ScopeBillingRead,
	ScopeBillingWrite,
	ScopeUsageWrite,
	ScopeGenerationWrite,
	ScopeKeysManage,
	ScopeAdmin,
}

// FirstKeyScopes is what a newly provisioned account's one-time key carries:
// everything the account needs to run itself, without the platform admin
// scope. Key management is included so the tenant can rotate on its own.
var FirstKeyScopes = []string{
	ScopeBillingWrite,
	ScopeUsageWrite,
	ScopeGenerationWrite,
	ScopeKeysManage,
}

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
}

type CreateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Scopes           []string   `json:"scopes"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidScope   = errors.New("invalid_scope")
	ErrInvalidKeyID   = errors.New("invalid_key_id")
	ErrNotFound       = errors.New("not_found")
)
