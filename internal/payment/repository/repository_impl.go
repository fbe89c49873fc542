package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwell-ai/inkwell/internal/payment/domain"
	"gorm.io/gorm"
)

const paymentColumns = `id, account_id, plan_id, description, transaction_reference,
	amount_requested, credits_granted, status, qr_payload,
	gateway_name, gateway_reference, settled_amount,
	created_at, expires_at, completed_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, account_id, plan_id, description, transaction_reference,
			amount_requested, credits_granted, status, qr_payload,
			gateway_name, gateway_reference, settled_amount,
			created_at, expires_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.AccountID,
		payment.PlanID,
		payment.Description,
		payment.TransactionReference,
		payment.AmountRequested,
		payment.CreditsGranted,
		payment.Status,
		payment.QRPayload,
		payment.GatewayName,
		payment.GatewayReference,
		payment.SettledAmount,
		payment.CreatedAt,
		payment.ExpiresAt,
		payment.CompletedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, accountID snowflake.ID, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments WHERE account_id = ? AND id = ? LIMIT 1`,
		accountID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, accountID snowflake.ID, reference string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments WHERE account_id = ? AND transaction_reference = ? LIMIT 1`,
		accountID,
		reference,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindPendingByReference is the settlement lookup. Filtering on status here,
// not in Go, is what makes webhook redelivery a safe no-op: a second
// delivery simply finds no pending row.
func (r *repo) FindPendingByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments WHERE transaction_reference = ? AND status = ? LIMIT 1`,
		reference,
		domain.StatusPending,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments WHERE account_id = ? ORDER BY created_at DESC`,
		accountID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkExpired transitions a pending row to expired. The status predicate
// makes concurrent expiry attempts and expiry-vs-settlement races resolve to
// exactly one winner; losers see zero rows affected.
func (r *repo) MarkExpired(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments SET status = ? WHERE id = ? AND status = ?`,
		domain.StatusExpired,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Settle completes a pending row and records the gateway metadata. Same
// conditional shape as MarkExpired; zero rows affected means another writer
// got there first and the caller must not apply side effects.
func (r *repo) Settle(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayName string, gatewayReference string, settledAmount int64, completedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, gateway_name = ?, gateway_reference = ?, settled_amount = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusCompleted,
		gatewayName,
		gatewayReference,
		settledAmount,
		completedAt,
		id,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
