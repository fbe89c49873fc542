package domain

import (
	"context"
	"errors"
)

// Plan describes one purchasable catalog entry. Credit packs grant a fixed
// credit amount; pro plans additionally extend the account's pro window.
type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	CreditsGranted  int64  `json:"credits_granted"`
	AmountMinor     int64  `json:"amount_minor"`
	IsPro           bool   `json:"is_pro"`
	ProDurationDays int    `json:"pro_duration_days"`
}

type Service interface {
	Resolve(ctx context.Context, planID string) (*Plan, error)
	List(ctx context.Context) []Plan
}

var ErrPlanNotFound = errors.New("plan_not_found")
