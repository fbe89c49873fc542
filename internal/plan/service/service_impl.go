package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/inkwell-ai/inkwell/internal/config"
	plandomain "github.com/inkwell-ai/inkwell/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const tokenPlanPrefix = "tokens_"

type Params struct {
	fx.In

	Log     *zap.Logger
	Billing *config.BillingConfigHolder
}

type Service struct {
	log     *zap.Logger
	billing *config.BillingConfigHolder
}

func New(p Params) plandomain.Service {
	return &Service{
		log:     p.Log.Named("plan.service"),
		billing: p.Billing,
	}
}

// Resolve matches planID against the static catalog first, then against the
// parametric tokens_<N> family. Unresolvable ids are a client error.
func (s *Service) Resolve(ctx context.Context, planID string) (*plandomain.Plan, error) {
	trimmed := strings.TrimSpace(planID)
	if trimmed == "" {
		return nil, plandomain.ErrPlanNotFound
	}

	cfg := s.billing.Get()
	for _, entry := range cfg.Plans {
		if entry.ID == trimmed {
			return catalogPlan(entry), nil
		}
	}

	if plan, ok := s.tokenPlan(cfg, trimmed); ok {
		return plan, nil
	}

	return nil, plandomain.ErrPlanNotFound
}

// List returns the static catalog entries. Token plans are parametric and
// not enumerable, so they are not included.
func (s *Service) List(ctx context.Context) []plandomain.Plan {
	cfg := s.billing.Get()
	plans := make([]plandomain.Plan, 0, len(cfg.Plans))
	for _, entry := range cfg.Plans {
		plans = append(plans, *catalogPlan(entry))
	}
	return plans
}

// tokenPlan resolves tokens_<N> ids. N must be a positive integer no larger
// than the configured ceiling; anything else fails resolution so oversized
// values cannot overflow downstream amount arithmetic.
func (s *Service) tokenPlan(cfg config.BillingConfig, planID string) (*plandomain.Plan, bool) {
	if !strings.HasPrefix(planID, tokenPlanPrefix) {
		return nil, false
	}

	raw := strings.TrimPrefix(planID, tokenPlanPrefix)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return nil, false
	}
	if max := cfg.Pricing.MaxTokenPlanCredits; max > 0 && n > max {
		s.log.Warn("token plan over ceiling", zap.String("plan_id", planID), zap.Int64("ceiling", max))
		return nil, false
	}

	return &plandomain.Plan{
		ID:             planID,
		Name:           fmt.Sprintf("Token Pack %d", n),
		CreditsGranted: n,
		AmountMinor:    n * cfg.Pricing.PerCreditMinor,
	}, true
}

func catalogPlan(entry config.PlanConfig) *plandomain.Plan {
	return &plandomain.Plan{
		ID:              entry.ID,
		Name:            entry.Name,
		CreditsGranted:  entry.Credits,
		AmountMinor:     entry.AmountMinor,
		IsPro:           entry.Pro,
		ProDurationDays: entry.ProDays,
	}
}
