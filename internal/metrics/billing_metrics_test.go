package metrics

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

func TestBillingMetrics_GatewayOutcomes(t *testing.T) {
	m := NewBillingMetrics(prometheus.NewRegistry(), logger.NewNop()).(*billingMetrics)

	transient := domain.NewPaymentGatewayError("asaas", "get_status", "http_502", "bad gateway", http.StatusBadGateway, nil)
	transient.Retryable = true

	m.ObserveGatewayCall("asaas", "get_status", time.Millisecond, nil)
	m.ObserveGatewayCall("asaas", "get_status", time.Millisecond, transient)
	m.ObserveGatewayCall("asaas", "get_status", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("asaas", "get_status", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("asaas", "get_status", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gatewayCalls.WithLabelValues("asaas", "get_status", "error")))
}

func TestBillingMetrics_Counters(t *testing.T) {
	m := NewBillingMetrics(prometheus.NewRegistry(), logger.NewNop()).(*billingMetrics)

	m.IncCancellation(domain.StatusCanceled, true)
	m.IncCancellation(domain.StatusActiveUntilEnd, false)
	m.IncActivation("webhook")
	m.SetPendingMappings(4, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellations.WithLabelValues("canceled", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellations.WithLabelValues("active_until_end", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activations.WithLabelValues("webhook")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.pendingMappings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.abandonedMappings))
}

func TestNewRegistry_IncludesRuntimeCollectors(t *testing.T) {
	families, err := NewRegistry().Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}
