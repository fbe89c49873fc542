package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository exposes atomic balance primitives. Callers never read, modify
// and write a balance at the application layer; every mutation is a single
// relative UPDATE so concurrent charges and settlements cannot lose writes.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, account *Account) error
	GetByID(ctx context.Context, id snowflake.ID) (*Account, error)
	GetByHandle(ctx context.Context, handle string) (*Account, error)
	Credit(ctx context.Context, id snowflake.ID, credits int64) error
	Debit(ctx context.Context, id snowflake.ID, credits int64, costMinor int64) error
	GrantPro(ctx context.Context, id snowflake.ID, until *time.Time) error
}
