package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwell-ai/inkwell/internal/account/domain"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, account *domain.Account) error {
	return r.db.WithContext(ctx).Exec(
		`INSERT INTO accounts (id, handle, display_name, email, token_balance, credits_used, total_spent_minor, is_pro, pro_expires_at, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Handle,
		account.DisplayName,
		account.Email,
		account.TokenBalance,
		account.CreditsUsed,
		account.TotalSpentMinor,
		account.IsPro,
		account.ProExpiresAt,
		account.IsActive,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repository) GetByID(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, handle, display_name, email, token_balance, credits_used, total_spent_minor, is_pro, pro_expires_at, is_active, created_at, updated_at
		 FROM accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repository) GetByHandle(ctx context.Context, handle string) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, handle, display_name, email, token_balance, credits_used, total_spent_minor, is_pro, pro_expires_at, is_active, created_at, updated_at
		 FROM accounts WHERE handle = ?`,
		handle,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

// Credit adds credits as a single relative update.
func (r *repository) Credit(ctx context.Context, id snowflake.ID, credits int64) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET token_balance = token_balance + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		credits,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// Debit subtracts credits and records spend in one conditional update. The
// balance predicate keeps token_balance from going negative; zero rows
// affected means the account cannot cover the charge.
func (r *repository) Debit(ctx context.Context, id snowflake.ID, credits int64, costMinor int64) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET token_balance = token_balance - ?,
		     credits_used = credits_used + ?,
		     total_spent_minor = total_spent_minor + ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND token_balance >= ?`,
		credits,
		credits,
		costMinor,
		id,
		credits,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (r *repository) GrantPro(ctx context.Context, id snowflake.ID, until *time.Time) error {
	res := r.db.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET is_pro = ?, pro_expires_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		true,
		until,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
