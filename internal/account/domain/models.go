// Package domain contains persistence models for the account service.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	TierStandard = "standard"
	TierPro      = "pro"
)

// Account is a billable tenant. The token balance is prepaid credits and is
// only ever mutated through the repository's relative updates.
type Account struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	Handle          string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_handle" json:"handle"`
	DisplayName     string       `gorm:"column:display_name;type:text;not null" json:"display_name"`
	Email           string       `gorm:"type:text;not null" json:"email"`
	TokenBalance    int64        `gorm:"column:token_balance;not null;default:0" json:"token_balance"`
	CreditsUsed     int64        `gorm:"column:credits_used;not null;default:0" json:"credits_used"`
	TotalSpentMinor int64        `gorm:"column:total_spent_minor;not null;default:0" json:"total_spent_minor"`
	IsPro           bool         `gorm:"column:is_pro;not null;default:false" json:"is_pro"`
	ProExpiresAt    *time.Time   `gorm:"column:pro_expires_at" json:"pro_expires_at"`
	IsActive        bool         `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// ProActive reports whether the pro entitlement is live at the given instant.
// A nil expiry on a pro account means the entitlement does not lapse.
func (a *Account) ProActive(now time.Time) bool {
	if !a.IsPro {
		return false
	}
	if a.ProExpiresAt == nil {
		return true
	}
	return a.ProExpiresAt.After(now)
}

// Tier returns the charging tier effective at the given instant.
func (a *Account) Tier(now time.Time) string {
	if a.ProActive(now) {
		return TierPro
	}
	return TierStandard
}
