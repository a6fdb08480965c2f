package metrics

import (
	"errors"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics метрики оформления, сверки и отмены планов.
type BillingMetrics interface {
	ObserveGatewayCall(provider, operation string, duration time.Duration, err error)
	IncCheckout(plan domain.PlanType, method domain.BillingMethod, outcome string)
	IncActivation(source string)
	IncCancellation(outcome domain.PlanStatus, refunded bool)
	IncRefundFailure()
	IncWebhook(provider string, status domain.WebhookEventStatus)
	IncVersionConflict(operation string)
	ObservePollAttempts(attempts int, activated bool)
	SetPendingMappings(pending, abandoned int)
}

type billingMetrics struct {
	log               *logger.Logger
	gatewayCalls      *prometheus.CounterVec
	gatewayDuration   *prometheus.HistogramVec
	checkouts         *prometheus.CounterVec
	activations       *prometheus.CounterVec
	cancellations     *prometheus.CounterVec
	refundFailures    prometheus.Counter
	webhooks          *prometheus.CounterVec
	versionConflicts  *prometheus.CounterVec
	pollAttempts      *prometheus.HistogramVec
	pendingMappings   prometheus.Gauge
	abandonedMappings prometheus.Gauge
}

// NewRegistry создает реестр с метриками рантайма Go и процесса.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// NewBillingMetrics регистрирует метрики в registry
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		log: log,
		gatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_gateway_calls_total",
				Help: "The total number of payment gateway calls by outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_gateway_call_duration_seconds",
				Help:    "Payment gateway call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		checkouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_checkouts_total",
				Help: "The total number of checkout attempts",
			},
			[]string{"plan", "method", "outcome"},
		),
		activations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_plan_activations_total",
				Help: "The total number of plans activated, by confirmation source",
			},
			[]string{"source"},
		),
		cancellations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_plan_cancellations_total",
				Help: "The total number of cancellations by resulting status",
			},
			[]string{"status", "refunded"},
		),
		refundFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_refund_failures_total",
				Help: "Refunds that failed after a successful cancellation",
			},
		),
		webhooks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_total",
				Help: "Incoming gateway webhooks by processing status",
			},
			[]string{"provider", "status"},
		),
		versionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_plan_version_conflicts_total",
				Help: "Conditional plan writes rejected because of a concurrent update",
			},
			[]string{"operation"},
		),
		pollAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_activation_poll_attempts",
				Help:    "Polling attempts until activation or exhaustion",
				Buckets: prometheus.LinearBuckets(1, 2, 8),
			},
			[]string{"activated"},
		),
		pendingMappings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_pending_mappings",
				Help: "Pending payment mappings seen by the last sweep",
			},
		),
		abandonedMappings: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_abandoned_mappings",
				Help: "Pending payment mappings older than the abandonment window",
			},
		),
	}
}

// ObserveGatewayCall реализует gateway.Observer
func (m *billingMetrics) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	m.gatewayCalls.WithLabelValues(provider, operation, gatewayOutcome(err)).Inc()
	m.gatewayDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

func (m *billingMetrics) IncCheckout(plan domain.PlanType, method domain.BillingMethod, outcome string) {
	m.checkouts.WithLabelValues(string(plan), string(method), outcome).Inc()
}

func (m *billingMetrics) IncActivation(source string) {
	m.activations.WithLabelValues(source).Inc()
}

func (m *billingMetrics) IncCancellation(outcome domain.PlanStatus, refunded bool) {
	m.cancellations.WithLabelValues(string(outcome), boolLabel(refunded)).Inc()
}

func (m *billingMetrics) IncRefundFailure() {
	m.refundFailures.Inc()
}

func (m *billingMetrics) IncWebhook(provider string, status domain.WebhookEventStatus) {
	m.webhooks.WithLabelValues(provider, string(status)).Inc()
}

func (m *billingMetrics) IncVersionConflict(operation string) {
	m.versionConflicts.WithLabelValues(operation).Inc()
}

func (m *billingMetrics) ObservePollAttempts(attempts int, activated bool) {
	m.pollAttempts.WithLabelValues(boolLabel(activated)).Observe(float64(attempts))
}

func (m *billingMetrics) SetPendingMappings(pending, abandoned int) {
	m.pendingMappings.Set(float64(pending))
	m.abandonedMappings.Set(float64(abandoned))
}

func gatewayOutcome(err error) string {
	var gwErr *domain.PaymentGatewayError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &gwErr) && gwErr.Code == "circuit_open":
		return "circuit_open"
	case errors.As(err, &gwErr) && gwErr.Retryable:
		return "transient"
	default:
		return "error"
	}
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// Nop метрики, которые ничего не записывают.
type Nop struct{}

func (Nop) ObserveGatewayCall(string, string, time.Duration, error) {}
func (Nop) IncCheckout(domain.PlanType, domain.BillingMethod, string) {}
func (Nop) IncActivation(string) {}
func (Nop) IncCancellation(domain.PlanStatus, bool) {}
func (Nop) IncRefundFailure() {}
func (Nop) IncWebhook(string, domain.WebhookEventStatus) {}
func (Nop) IncVersionConflict(string) {}
func (Nop) ObservePollAttempts(int, bool) {}
func (Nop) SetPendingMappings(int, int) {}
