// Package domain contains the payment ledger model and contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
)

// Settlement outcomes reported by HandleSettlement. Every outcome past
// authentication is acknowledged to the gateway; the distinction only feeds
// logs and metrics.
const (
	OutcomeApplied       = "applied"
	OutcomeNoReference   = "no_reference"
	OutcomeNotFound      = "not_found"
	OutcomeExpired       = "expired"
	OutcomeUnderpaid     = "underpaid"
	OutcomeLostRace      = "lost_race"
	OutcomeInternalError = "internal_error"
)

// Payment is one ledger row. Status moves pending to completed or pending to
// expired, never backwards, and rows are never deleted.
type Payment struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID            snowflake.ID `gorm:"column:account_id;not null;index" json:"account_id"`
	PlanID               string       `gorm:"column:plan_id;type:text;not null" json:"plan_id"`
	Description          string       `gorm:"type:text;not null" json:"description"`
	TransactionReference string       `gorm:"column:transaction_reference;type:text;not null;uniqueIndex:ux_payments_reference" json:"transaction_reference"`
	AmountRequested      int64        `gorm:"column:amount_requested;not null" json:"amount_requested"`
	CreditsGranted       int64        `gorm:"column:credits_granted;not null" json:"credits_granted"`
	Status               string       `gorm:"type:text;not null;index" json:"status"`
	QRPayload            string       `gorm:"column:qr_payload;type:text;not null" json:"qr_payload"`
	GatewayName          *string      `gorm:"column:gateway_name;type:text" json:"gateway_name"`
	GatewayReference     *string      `gorm:"column:gateway_reference;type:text" json:"gateway_reference"`
	SettledAmount        *int64       `gorm:"column:settled_amount" json:"settled_amount"`
	CreatedAt            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	ExpiresAt            time.Time    `gorm:"column:expires_at;not null" json:"expires_at"`
	CompletedAt          *time.Time   `gorm:"column:completed_at" json:"completed_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

type CreateRequest struct {
	PlanID      string `json:"plan_id"`
	AmountMinor int64  `json:"amount_minor"`
	Description string `json:"description"`
}

// Response is the caller-facing payment view. QRPayload and ExpiresAt are
// omitted once a record leaves pending; settled bank details have no further
// purpose for the client.
type Response struct {
	ID                   string     `json:"id"`
	PlanID               string     `json:"plan_id"`
	Description          string     `json:"description"`
	TransactionReference string     `json:"transaction_reference"`
	AmountRequested      int64      `json:"amount_requested"`
	CreditsGranted       int64      `json:"credits_granted"`
	Status               string     `json:"status"`
	QRPayload            string     `json:"qr_payload,omitempty"`
	GatewayName          *string    `json:"gateway_name,omitempty"`
	SettledAmount        *int64     `json:"settled_amount,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

type StatusResponse struct {
	TransactionReference string     `json:"transaction_reference"`
	Status               string     `json:"status"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// SettlementNotification is the parsed gateway webhook body. The reference is
// not a field of its own; it must be recovered from the free-text narration.
type SettlementNotification struct {
	GatewayNotificationID string `json:"gatewayNotificationId"`
	GatewayName           string `json:"gatewayName"`
	Narration             string `json:"narration"`
	SettledAmount         int64  `json:"settledAmount"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	History(ctx context.Context) ([]Response, error)
	Detail(ctx context.Context, paymentID snowflake.ID) (*Response, error)
	StatusByReference(ctx context.Context, reference string) (*StatusResponse, error)
	Receipt(ctx context.Context, paymentID snowflake.ID) ([]byte, error)
	HandleSettlement(ctx context.Context, notif SettlementNotification) (string, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, accountID snowflake.ID, id snowflake.ID) (*Payment, error)
	FindByReference(ctx context.Context, db *gorm.DB, accountID snowflake.ID, reference string) (*Payment, error)
	FindPendingByReference(ctx context.Context, db *gorm.DB, reference string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Payment, error)
	MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayName string, gatewayReference string, settledAmount int64, completedAt time.Time) (bool, error)
}

var (
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrPaymentNotFound    = errors.New("payment_not_found")
	ErrReceiptUnavailable = errors.New("receipt_unavailable")
)
