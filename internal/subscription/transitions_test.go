package subscription_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/subscription"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, subscription.CanTransition("", domain.StatusTrial))
	assert.True(t, subscription.CanTransition(domain.StatusTrial, domain.StatusActive))
	assert.True(t, subscription.CanTransition(domain.StatusActive, domain.StatusActiveUntilEnd))
	assert.False(t, subscription.CanTransition(domain.StatusCanceled, domain.StatusActive))
	assert.False(t, subscription.CanTransition(domain.StatusInactive, domain.StatusCanceled))
}

func TestActivate(t *testing.T) {
	dates := domain.Period{Start: now, End: now.AddDate(1, 0, 0)}
	in := subscription.Activation{
		Plan:       domain.PlanAnnual,
		Kind:       domain.MappingSubscription,
		GatewayID:  "sub_1",
		CustomerID: "cus_1",
		Now:        now.Add(time.Minute),
	}

	t.Run("trial becomes active and keeps identifiers", func(t *testing.T) {
		trial := domain.Trial{Plan: domain.PlanAnnual, Dates: dates, Ref: domain.GatewayRef{SubscriptionID: "sub_1", CustomerID: "cus_1"}}

		next, changed, err := subscription.Activate(trial, in)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.StatusActive, next.Status())
		assert.Equal(t, dates, next.Period())
		assert.Equal(t, trial.Ref, next.GatewayRef())
	})

	t.Run("second activation is a no-op", func(t *testing.T) {
		trial := domain.Trial{Plan: domain.PlanAnnual, Dates: dates, Ref: domain.GatewayRef{SubscriptionID: "sub_1"}}
		first, _, err := subscription.Activate(trial, in)
		require.NoError(t, err)

		second, changed, err := subscription.Activate(first, in)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, first, second)
	})

	t.Run("canceled plan is not reactivated", func(t *testing.T) {
		canceled := domain.Canceled{Plan: domain.PlanAnnual, Dates: dates, Ref: domain.GatewayRef{SubscriptionID: "sub_1"}, CanceledAt: now}
		next, changed, err := subscription.Activate(canceled, in)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.False(t, changed)
		assert.Equal(t, canceled, next)
	})

	t.Run("confirmation of a superseded subscription is ignored", func(t *testing.T) {
		trial := domain.Trial{Plan: domain.PlanMonthly, Dates: dates, Ref: domain.GatewayRef{SubscriptionID: "sub_new"}}
		_, changed, err := subscription.Activate(trial, in)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.False(t, changed)
	})

	t.Run("paid charge for an earlier checkout activates the paid plan", func(t *testing.T) {
		trial := domain.Trial{Plan: domain.PlanTrialTest, Dates: dates, Ref: domain.GatewayRef{CustomerID: "cus_1"}}
		next, changed, err := subscription.Activate(trial, in)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.PlanAnnual, next.PlanType())
		assert.Equal(t, in.Now, next.Period().Start)
		assert.Equal(t, domain.GatewayRef{SubscriptionID: "sub_1", CustomerID: "cus_1"}, next.GatewayRef())
	})

	t.Run("missing provisional write starts the period at confirmation", func(t *testing.T) {
		next, changed, err := subscription.Activate(nil, in)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, in.Now, next.Period().Start)
		assert.Equal(t, in.Now.Add(365*24*time.Hour), next.Period().End)
		assert.Equal(t, "sub_1", next.GatewayRef().SubscriptionID)
	})
}

func TestCancel(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	active := mustActive(t, domain.PlanAnnual, domain.Period{Start: start, End: start.AddDate(1, 0, 0)}, domain.GatewayRef{SubscriptionID: "sub_1"})

	next, eligible, err := subscription.Cancel(active, start.AddDate(0, 0, 3), true)
	require.NoError(t, err)
	assert.True(t, eligible)
	canceled, ok := next.(domain.Canceled)
	require.True(t, ok)
	assert.True(t, canceled.Refunded)

	next, eligible, err = subscription.Cancel(active, start.AddDate(0, 0, 8), false)
	require.NoError(t, err)
	assert.False(t, eligible)
	assert.Equal(t, domain.StatusActiveUntilEnd, next.Status())

	_, _, err = subscription.Cancel(nil, start, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
