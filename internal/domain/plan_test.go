package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

func TestPlanDurationFor(t *testing.T) {
	day := 24 * time.Hour
	cases := map[domain.PlanType]time.Duration{
		domain.PlanTrialTest: day,
		domain.PlanMonthly:   30 * day,
		domain.PlanQuarterly: 90 * day,
		domain.PlanBiannual:  180 * day,
		domain.PlanAnnual:    365 * day,
		domain.PlanFree:      0,
	}
	for plan, want := range cases {
		assert.Equal(t, want, domain.PlanDurationFor(plan), plan)
	}
}

func TestLookupPlan(t *testing.T) {
	p, err := domain.LookupPlan(domain.PlanAnnual)
	require.NoError(t, err)
	assert.True(t, p.Recurring)
	assert.True(t, p.PremiumTier)
	assert.True(t, p.Purchasable())

	trial, err := domain.LookupPlan(domain.PlanTrialTest)
	require.NoError(t, err)
	assert.False(t, trial.Recurring)
	assert.True(t, trial.TrialAccessible)

	free, err := domain.LookupPlan(domain.PlanFree)
	require.NoError(t, err)
	assert.False(t, free.Purchasable())

	_, err = domain.LookupPlan("lifetime")
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

func TestPremiumTiers(t *testing.T) {
	var premium []domain.PlanType
	for _, p := range domain.Plans() {
		if p.PremiumTier {
			premium = append(premium, p.Type)
		}
	}
	assert.ElementsMatch(t, []domain.PlanType{domain.PlanAnnual, domain.PlanBiannual, domain.PlanTrialTest}, premium)
}

func TestChargeAmount(t *testing.T) {
	assert.Equal(t, int64(29990), domain.ChargeAmount(decimal.RequireFromString("299.90")))
	assert.Equal(t, int64(500), domain.ChargeAmount(decimal.RequireFromString("5")))
}
