package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// Resilient оборачивает шлюз в circuit breaker и повторяет идемпотентные
// вызовы при временных ошибках. Создание подписки и платежа не повторяется.
type Resilient struct {
	next       Gateway
	cb         *gobreaker.CircuitBreaker[any]
	maxRetries uint64
	initial    time.Duration
	observer   Observer
	log        *logger.Logger
}

// NewResilient создает обертку над шлюзом.
func NewResilient(next Gateway, cfg config.GatewayConfig, observer Observer, log *logger.Logger) *Resilient {
	if observer == nil {
		observer = nopObserver{}
	}

	threshold := cfg.Breaker.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "gateway-" + next.Name(),
		MaxRequests: cfg.Breaker.MaxRequests,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Отказ 4xx говорит о запросе, а не о здоровье шлюза.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("Gateway circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Resilient{
		next:       next,
		cb:         cb,
		maxRetries: cfg.MaxRetries,
		initial:    500 * time.Millisecond,
		observer:   observer,
		log:        log,
	}
}

// WithInitialInterval меняет начальный интервал между повторами.
func (r *Resilient) WithInitialInterval(d time.Duration) *Resilient {
	r.initial = d
	return r
}

// IsRetryable сообщает, имеет ли смысл повторить вызов.
func IsRetryable(err error) bool {
	var gwErr *domain.PaymentGatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return false
}

// RetryableStatus: 429 и 5xx, кроме 501.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		(code >= http.StatusInternalServerError && code != http.StatusNotImplemented)
}

func run[T any](r *Resilient, ctx context.Context, op string, idempotent bool, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()

	operation := func() (T, error) {
		res, err := r.cb.Execute(func() (any, error) {
			return fn(ctx)
		})
		if err != nil {
			var zero T
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, backoff.Permanent(domain.NewPaymentGatewayError(
					r.next.Name(), op, "circuit_open", "payment gateway temporarily unavailable", http.StatusServiceUnavailable, err))
			}
			if !idempotent || !IsRetryable(err) {
				return zero, backoff.Permanent(err)
			}
			r.log.Warnw("Retryable gateway error", "provider", r.next.Name(), "operation", op, "error", err)
			return zero, err
		}
		typed, _ := res.(T)
		return typed, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.initial
	expBackoff.MaxElapsedTime = 0

	var retries uint64
	if idempotent {
		retries = r.maxRetries
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, retries), ctx)

	res, err := backoff.RetryWithData(operation, policy)
	r.observer.ObserveGatewayCall(r.next.Name(), op, time.Since(start), err)
	return res, err
}

func (r *Resilient) Name() string { return r.next.Name() }

func (r *Resilient) CreateOrGetCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	return run(r, ctx, "create_or_get_customer", true, func(ctx context.Context) (string, error) {
		return r.next.CreateOrGetCustomer(ctx, req)
	})
}

func (r *Resilient) CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Payment, error) {
	return run(r, ctx, "create_subscription", false, func(ctx context.Context) (*Payment, error) {
		return r.next.CreateSubscription(ctx, req)
	})
}

func (r *Resilient) CreateCharge(ctx context.Context, req ChargeRequest) (*Payment, error) {
	return run(r, ctx, "create_charge", false, func(ctx context.Context) (*Payment, error) {
		return r.next.CreateCharge(ctx, req)
	})
}

func (r *Resilient) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_, err := run(r, ctx, "cancel_subscription", true, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.CancelSubscription(ctx, subscriptionID)
	})
	return err
}

func (r *Resilient) RefundLatestPayment(ctx context.Context, subscriptionID string) error {
	_, err := run(r, ctx, "refund", false, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.RefundLatestPayment(ctx, subscriptionID)
	})
	return err
}

func (r *Resilient) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (Status, error) {
	return run(r, ctx, "get_subscription_status", true, func(ctx context.Context) (Status, error) {
		return r.next.GetSubscriptionStatus(ctx, subscriptionID)
	})
}

func (r *Resilient) GetChargeStatus(ctx context.Context, chargeID string) (Status, error) {
	return run(r, ctx, "get_charge_status", true, func(ctx context.Context) (Status, error) {
		return r.next.GetChargeStatus(ctx, chargeID)
	})
}

// ParseWebhook не проходит через breaker: это локальная проверка подписи.
func (r *Resilient) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	return r.next.ParseWebhook(ctx, payload, header)
}
