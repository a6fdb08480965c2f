// Package gatewaytest содержит mock шлюза для тестов сервисов.
package gatewaytest

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
)

// Mock реализует gateway.Gateway на testify/mock.
type Mock struct {
	mock.Mock
}

var _ gateway.Gateway = (*Mock)(nil)

func (m *Mock) Name() string { return "mock" }

func (m *Mock) CreateOrGetCustomer(ctx context.Context, req gateway.CustomerRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *Mock) CreateSubscription(ctx context.Context, req gateway.SubscriptionRequest) (*gateway.Payment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

func (m *Mock) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Payment, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Payment), args.Error(1)
}

func (m *Mock) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

func (m *Mock) RefundLatestPayment(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

func (m *Mock) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (gateway.Status, error) {
	args := m.Called(ctx, subscriptionID)
	return args.Get(0).(gateway.Status), args.Error(1)
}

func (m *Mock) GetChargeStatus(ctx context.Context, chargeID string) (gateway.Status, error) {
	args := m.Called(ctx, chargeID)
	return args.Get(0).(gateway.Status), args.Error(1)
}

func (m *Mock) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*domain.GatewayEvent, error) {
	args := m.Called(ctx, payload, header)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GatewayEvent), args.Error(1)
}
