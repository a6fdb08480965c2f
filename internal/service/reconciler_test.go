package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway/gatewaytest"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/kafka"
)

var reconcileCfg = config.ReconciliationConfig{
	PollInterval:        2 * time.Second,
	MaxPollInterval:     5 * time.Second,
	PollAttempts:        10,
	MaxPollAttempts:     30,
	PendingAbandonAfter: 72 * time.Hour,
	SweepBatch:          100,
	CASRetries:          5,
}

// checkoutFor оформляет план через сервис и возвращает идентификатор шлюза.
func checkoutFor(t *testing.T, f *fixture, gw *gatewaytest.Mock, userID string, plan domain.PlanType) string {
	t.Helper()

	svc := NewCheckoutService(f.deps, gw, checkoutCfg, 3)
	result, err := svc.StartCheckout(context.Background(), domain.CheckoutSession{
		UserID:        userID,
		PlanType:      plan,
		BillingMethod: domain.BillingCreditCard,
	})
	require.NoError(t, err)
	return result.GatewayID
}

func subscriptionGateway(id string) *gatewaytest.Mock {
	gw := &gatewaytest.Mock{}
	gw.On("CreateOrGetCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
	gw.On("CreateSubscription", mock.Anything, mock.Anything).
		Return(&gateway.Payment{ID: id, InvoiceURL: "https://pay.example.com/" + id}, nil)
	return gw
}

func TestMarkActive_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	gw := subscriptionGateway("sub_1")
	checkoutFor(t, f, gw, "u1", domain.PlanAnnual)

	r := NewReconciler(f.deps, gw, reconcileCfg)

	first, err := r.MarkActive(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, first.Plan.Status)
	assert.Equal(t, "sub_1", first.Plan.GatewaySubscriptionID)
	assert.Equal(t, "cus_1", first.Plan.GatewayCustomerID)

	second, err := r.MarkActive(context.Background(), "sub_1")
	require.NoError(t, err)

	firstRec, secondRec := *first.Plan, *second.Plan
	assert.Equal(t, firstRec, secondRec)
	assert.Equal(t, 1, f.publisher.count(kafka.TopicPlanActivated))

	m, err := f.mappings.GetMapping(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.MappingConfirmed, m.Status)
	require.NotNil(t, m.ConfirmedAt)
}

func TestMarkActive_PreservesTrialPeriod(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	gw := subscriptionGateway("sub_1")
	checkoutFor(t, f, gw, "u1", domain.PlanQuarterly)

	f.clock.Set(t0.Add(time.Hour))
	r := NewReconciler(f.deps, gw, reconcileCfg)
	_, err := r.MarkActive(context.Background(), "sub_1")
	require.NoError(t, err)

	active, ok := f.plan(t, "u1").(domain.Active)
	require.True(t, ok)
	assert.Equal(t, t0, active.Period().Start)
	assert.Equal(t, t0.Add(days(90)), active.Period().End)
}

func TestMarkActive_DoesNotReviveCanceledPlan(t *testing.T) {
	f := newFixture(t)
	rec := domain.RecordOf(domain.Canceled{
		Plan:       domain.PlanMonthly,
		Dates:      domain.Period{Start: t0, End: t0.Add(days(30))},
		Ref:        domain.GatewayRef{SubscriptionID: "sub_1", CustomerID: "cus_1"},
		CanceledAt: t0.Add(days(1)),
		Refunded:   true,
	})
	f.addUser(t, "u1", &rec)
	require.NoError(t, f.mappings.CreateMapping(context.Background(), domain.PendingPaymentMapping{
		GatewayID: "sub_1",
		Kind:      domain.MappingSubscription,
		UserID:    "u1",
		PlanType:  domain.PlanMonthly,
		CreatedAt: t0,
	}))

	r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)
	_, err := r.MarkActive(context.Background(), "sub_1")
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
	assert.Equal(t, domain.StatusCanceled, f.plan(t, "u1").Status())

	m, err := f.mappings.GetMapping(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, domain.MappingConfirmed, m.Status)
}

func TestMarkActive_UnknownGatewayID(t *testing.T) {
	f := newFixture(t)
	r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)

	_, err := r.MarkActive(context.Background(), "sub_missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestHandleGatewayEvent(t *testing.T) {
	t.Run("confirmation before the mapping resolves by reference", func(t *testing.T) {
		f := newFixture(t)
		trial := domain.RecordOf(domain.Trial{
			Plan:  domain.PlanMonthly,
			Dates: domain.Period{Start: t0, End: t0.Add(days(30))},
			Ref:   domain.GatewayRef{SubscriptionID: "sub_1", CustomerID: "cus_1"},
		})
		f.addUser(t, "u1", &trial)

		r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)
		err := r.HandleGatewayEvent(context.Background(), domain.GatewayEvent{
			ID:                "evt_1",
			Type:              domain.GatewayEventPaymentConfirmed,
			GatewayID:         "sub_1",
			ExternalReference: "u1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, f.plan(t, "u1").Status())
	})

	t.Run("confirmation without mapping or reference is retryable", func(t *testing.T) {
		f := newFixture(t)
		r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)

		err := r.HandleGatewayEvent(context.Background(), domain.GatewayEvent{
			ID:        "evt_1",
			Type:      domain.GatewayEventPaymentConfirmed,
			GatewayID: "sub_1",
		})
		assert.True(t, errors.Is(err, ErrEventUnresolved))
		assert.False(t, permanentEventError(err))
	})

	t.Run("confirmation without gateway object is acknowledged", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "u1", nil)
		r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)

		err := r.HandleGatewayEvent(context.Background(), domain.GatewayEvent{
			ID:      "evt_manual_invoice",
			Type:    domain.GatewayEventPaymentConfirmed,
			RawType: "invoice.paid",
		})
		require.NoError(t, err)
		assert.Nil(t, f.plan(t, "u1"))
		assert.Zero(t, f.publisher.count(kafka.TopicPlanActivated))
	})

	t.Run("refund flags a canceled plan", func(t *testing.T) {
		f := newFixture(t)
		rec := domain.RecordOf(domain.Canceled{
			Plan:       domain.PlanAnnual,
			Dates:      domain.Period{Start: t0, End: t0.Add(days(365))},
			Ref:        domain.GatewayRef{SubscriptionID: "sub_1"},
			CanceledAt: t0.Add(days(2)),
		})
		f.addUser(t, "u1", &rec)
		require.NoError(t, f.mappings.CreateMapping(context.Background(), domain.PendingPaymentMapping{
			GatewayID: "sub_1", Kind: domain.MappingSubscription, UserID: "u1", PlanType: domain.PlanAnnual, CreatedAt: t0,
		}))

		r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)
		err := r.HandleGatewayEvent(context.Background(), domain.GatewayEvent{
			ID: "evt_2", Type: domain.GatewayEventPaymentRefunded, GatewayID: "sub_1",
		})
		require.NoError(t, err)

		canceled, ok := f.plan(t, "u1").(domain.Canceled)
		require.True(t, ok)
		assert.True(t, canceled.Refunded)
	})

	t.Run("failed payment does not touch the plan", func(t *testing.T) {
		f := newFixture(t)
		trial := domain.RecordOf(domain.Trial{Plan: domain.PlanMonthly, Ref: domain.GatewayRef{SubscriptionID: "sub_1"}})
		f.addUser(t, "u1", &trial)

		r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)
		err := r.HandleGatewayEvent(context.Background(), domain.GatewayEvent{
			ID: "evt_3", Type: domain.GatewayEventPaymentFailed, GatewayID: "sub_1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusTrial, f.plan(t, "u1").Status())
	})
}

func TestAwaitActivation_DetectsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "U1", nil)
	gw := subscriptionGateway("sub_u1")
	checkoutFor(t, f, gw, "U1", domain.PlanAnnual)

	r := NewReconciler(f.deps, gw, reconcileCfg)

	// шлюз подтверждает оплату через 4 секунды после checkout
	confirmed := false
	f.clock.onAdvance = func(now time.Time) {
		if !confirmed && !now.Before(t0.Add(4*time.Second)) {
			confirmed = true
			_, err := r.MarkActive(context.Background(), "sub_u1")
			require.NoError(t, err)
		}
	}

	result, err := r.AwaitActivation(context.Background(), "U1", PollOptions{Interval: 2 * time.Second, Attempts: 10})
	require.NoError(t, err)

	assert.True(t, result.Active)
	assert.False(t, result.Pending)
	assert.Contains(t, []int{2, 3}, result.Attempts)
	assert.Nil(t, result.Timeout)
	assert.Equal(t, t0.Add(4*time.Second), f.clock.Now())
}

func TestAwaitActivation_ExhaustionIsPending(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	gw := subscriptionGateway("sub_1")
	checkoutFor(t, f, gw, "u1", domain.PlanMonthly)

	r := NewReconciler(f.deps, gw, reconcileCfg)
	result, err := r.AwaitActivation(context.Background(), "u1", PollOptions{Interval: time.Second, Attempts: 3})
	require.NoError(t, err)

	assert.False(t, result.Active)
	assert.True(t, result.Pending)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, MessageAwaitingConfirmation, result.Message)
	require.NotNil(t, result.Timeout)
	assert.True(t, errors.Is(result.Timeout, domain.ErrReconciliationTimeout))
	assert.Equal(t, t0.Add(2*time.Second), f.clock.Now())
}

func TestAwaitActivation_CapsAttempts(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)

	cfg := reconcileCfg
	cfg.MaxPollAttempts = 4
	r := NewReconciler(f.deps, &gatewaytest.Mock{}, cfg)

	result, err := r.AwaitActivation(context.Background(), "u1", PollOptions{Interval: time.Second, Attempts: 1000})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Attempts)
}

func TestAwaitActivation_ClampsInterval(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)

	result, err := r.AwaitActivation(context.Background(), "u1", PollOptions{Interval: 24 * time.Hour, Attempts: 30})
	require.NoError(t, err)

	assert.True(t, result.Pending)
	assert.Equal(t, 30, result.Attempts)
	assert.Equal(t, t0.Add(29*5*time.Second), f.clock.Now())
}

func TestAwaitActivation_Canceled(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", nil)
	r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.AwaitActivation(ctx, "u1", PollOptions{Interval: time.Second, Attempts: 5})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, result.Pending)
}

func TestRefreshFromGateway(t *testing.T) {
	t.Run("confirmed subscription activates the plan", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "u1", nil)
		gw := subscriptionGateway("sub_1")
		checkoutFor(t, f, gw, "u1", domain.PlanMonthly)
		gw.On("GetSubscriptionStatus", mock.Anything, "sub_1").Return(gateway.StatusConfirmed, nil)

		r := NewReconciler(f.deps, gw, reconcileCfg)
		result, err := r.RefreshFromGateway(context.Background(), "u1")
		require.NoError(t, err)

		assert.True(t, result.Activated)
		assert.Equal(t, gateway.StatusConfirmed, result.GatewayStatus)
		assert.Equal(t, domain.StatusActive, result.Plan.Status)
	})

	t.Run("pending subscription is reported without changes", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "u1", nil)
		gw := subscriptionGateway("sub_1")
		checkoutFor(t, f, gw, "u1", domain.PlanMonthly)
		gw.On("GetSubscriptionStatus", mock.Anything, "sub_1").Return(gateway.StatusPending, nil)

		r := NewReconciler(f.deps, gw, reconcileCfg)
		result, err := r.RefreshFromGateway(context.Background(), "u1")
		require.NoError(t, err)

		assert.False(t, result.Activated)
		assert.Equal(t, domain.StatusTrial, f.plan(t, "u1").Status())
	})

	t.Run("one-off charge is looked up through pending mappings", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "u1", nil)
		gw := &gatewaytest.Mock{}
		gw.On("CreateOrGetCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
		gw.On("CreateCharge", mock.Anything, mock.Anything).Return(&gateway.Payment{ID: "pay_1"}, nil)
		gw.On("GetChargeStatus", mock.Anything, "pay_1").Return(gateway.StatusConfirmed, nil)
		checkoutFor(t, f, gw, "u1", domain.PlanTrialTest)

		r := NewReconciler(f.deps, gw, reconcileCfg)
		result, err := r.RefreshFromGateway(context.Background(), "u1")
		require.NoError(t, err)

		assert.True(t, result.Activated)
		active, ok := f.plan(t, "u1").(domain.Active)
		require.True(t, ok)
		assert.Equal(t, "cus_1", active.GatewayRef().CustomerID)
	})

	t.Run("no subscription and no pending payment", func(t *testing.T) {
		f := newFixture(t)
		f.addUser(t, "u1", nil)

		r := NewReconciler(f.deps, &gatewaytest.Mock{}, reconcileCfg)
		_, err := r.RefreshFromGateway(context.Background(), "u1")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestSweepPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		f.addUser(t, id, nil)
	}

	gw := &gatewaytest.Mock{}
	gw.On("CreateOrGetCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
	gw.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(r gateway.SubscriptionRequest) bool {
		return r.ExternalReference == "u1"
	})).Return(&gateway.Payment{ID: "sub_old"}, nil).Once()
	checkoutFor(t, f, gw, "u1", domain.PlanMonthly)

	f.clock.Set(t0.Add(days(4)))
	gw.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(r gateway.SubscriptionRequest) bool {
		return r.ExternalReference == "u2"
	})).Return(&gateway.Payment{ID: "sub_paid"}, nil).Once()
	gw.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(r gateway.SubscriptionRequest) bool {
		return r.ExternalReference == "u3"
	})).Return(&gateway.Payment{ID: "sub_waiting"}, nil).Once()
	checkoutFor(t, f, gw, "u2", domain.PlanMonthly)
	checkoutFor(t, f, gw, "u3", domain.PlanMonthly)

	gw.On("GetSubscriptionStatus", mock.Anything, "sub_paid").Return(gateway.StatusConfirmed, nil)
	gw.On("GetSubscriptionStatus", mock.Anything, "sub_waiting").Return(gateway.StatusPending, nil)

	r := NewReconciler(f.deps, gw, reconcileCfg)
	report, err := r.SweepPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepReport{Checked: 3, Activated: 1, Abandoned: 1}, report)
	assert.Equal(t, domain.StatusActive, f.plan(t, "u2").Status())
	assert.Equal(t, domain.StatusTrial, f.plan(t, "u3").Status())
	gw.AssertNotCalled(t, "GetSubscriptionStatus", mock.Anything, "sub_old")
}

func TestSweepPending_AbandonedBacklogDoesNotStarveFreshPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"sub_a1", "sub_a2", "sub_a3", "sub_a4"} {
		require.NoError(t, f.mappings.CreateMapping(ctx, domain.PendingPaymentMapping{
			GatewayID: id, Kind: domain.MappingSubscription, UserID: "ghost", PlanType: domain.PlanMonthly, CreatedAt: t0,
		}))
	}

	f.clock.Set(t0.Add(days(4)))
	f.addUser(t, "u1", nil)
	gw := subscriptionGateway("sub_fresh")
	checkoutFor(t, f, gw, "u1", domain.PlanMonthly)
	gw.On("GetSubscriptionStatus", mock.Anything, "sub_fresh").Return(gateway.StatusConfirmed, nil)

	cfg := reconcileCfg
	cfg.SweepBatch = 3
	r := NewReconciler(f.deps, gw, cfg)

	report, err := r.SweepPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepReport{Checked: 5, Activated: 1, Abandoned: 4}, report)
	assert.Equal(t, domain.StatusActive, f.plan(t, "u1").Status())
	gw.AssertNotCalled(t, "GetSubscriptionStatus", mock.Anything, "sub_a1")
}
