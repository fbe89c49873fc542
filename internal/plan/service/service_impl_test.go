package service

import (
	"context"
	"testing"

	"github.com/inkwell-ai/inkwell/internal/config"
	plandomain "github.com/inkwell-ai/inkwell/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) plandomain.Service {
	t.Helper()
	return New(Params{
		Log:     zap.NewNop(),
		Billing: config.NewStaticBillingHolder(config.DefaultBillingConfig()),
	})
}

func TestResolve_CatalogPlans(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Resolve(ctx, "credits_100")
	require.NoError(t, err)
	assert.Equal(t, int64(100), plan.CreditsGranted)
	assert.Equal(t, int64(50000), plan.AmountMinor)
	assert.False(t, plan.IsPro)

	pro, err := svc.Resolve(ctx, "pro_monthly")
	require.NoError(t, err)
	assert.True(t, pro.IsPro)
	assert.Equal(t, 30, pro.ProDurationDays)
}

func TestResolve_TokenFamily(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		planID  string
		credits int64
		wantErr bool
	}{
		{name: "five hundred tokens", planID: "tokens_500", credits: 500},
		{name: "single token", planID: "tokens_1", credits: 1},
		{name: "zero rejected", planID: "tokens_0", wantErr: true},
		{name: "negative rejected", planID: "tokens_-5", wantErr: true},
		{name: "absurd size rejected", planID: "tokens_999999999999", wantErr: true},
		{name: "non numeric rejected", planID: "tokens_abc", wantErr: true},
		{name: "unknown plan rejected", planID: "unknown_plan", wantErr: true},
		{name: "empty rejected", planID: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := svc.Resolve(ctx, tc.planID)
			if tc.wantErr {
				assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.credits, plan.CreditsGranted)
			assert.Equal(t, tc.credits*config.DefaultBillingConfig().Pricing.PerCreditMinor, plan.AmountMinor)
		})
	}
}

func TestList_ReturnsCatalog(t *testing.T) {
	svc := newTestService(t)

	plans := svc.List(context.Background())
	require.NotEmpty(t, plans)

	ids := make(map[string]bool, len(plans))
	for _, p := range plans {
		ids[p.ID] = true
	}
	assert.True(t, ids["credits_100"])
	assert.True(t, ids["pro_yearly"])
}
