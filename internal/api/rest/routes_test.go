package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/api/rest/handlers"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway/gatewaytest"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/metrics"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/middleware"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/repository"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/service"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

const secret = "rest-test-secret"

type testAPI struct {
	router *gin.Engine
	users  *repository.InMemoryUserRepository
	gw     *gatewaytest.Mock
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	users := repository.NewInMemoryUserRepository(log)
	mappings := repository.NewInMemoryMappingRepository(log)
	gw := &gatewaytest.Mock{}

	registry := metrics.NewRegistry()
	deps := service.Deps{
		Users:    users,
		Mappings: mappings,
		Metrics:  metrics.NewBillingMetrics(registry, log),
		Log:      log,
	}
	reconCfg := config.ReconciliationConfig{PollInterval: time.Millisecond, PollAttempts: 2, MaxPollAttempts: 3}

	checkout := service.NewCheckoutService(deps, gw, config.CheckoutConfig{SuccessURL: "https://app.example.com/ok"}, 3)
	reconciler := service.NewReconciler(deps, gw, reconCfg)
	cancellation := service.NewCancellationService(deps, gw, 3)
	plans := service.NewPlanService(deps, 3)
	webhooks := service.NewWebhookService(
		map[string]service.WebhookParser{"mock": gw},
		reconciler,
		repository.NewInMemoryWebhookEventRepository(log),
		repository.NewInMemoryDeduper(),
		deps,
		config.WebhookConfig{MaxAttempts: 3},
	)

	h := Handlers{
		Health: handlers.NewHealthHandler(map[string]handlers.HealthChecker{
			"store": func(context.Context) error { return nil },
		}),
		Checkout: handlers.NewCheckoutHandler(checkout, log),
		Plan:     handlers.NewPlanHandler(plans, reconciler, cancellation, log),
		Webhook:  handlers.NewWebhookHandler(webhooks, log),
		Admin:    handlers.NewAdminHandler(reconciler, plans, webhooks, log),
	}
	auth := middleware.NewAuthMiddleware(middleware.NewJWTValidator(secret), users, log)

	return &testAPI{
		router: SetupRouter(h, auth, registry, log),
		users:  users,
		gw:     gw,
	}
}

func (a *testAPI) addUser(t *testing.T, u domain.User) {
	t.Helper()
	require.NoError(t, a.users.SaveUser(context.Background(), &u))
}

func token(t *testing.T, sub string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"OK"`)

	w = api.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestListPlans(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/plans", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	plans := decode[[]map[string]any](t, w)
	assert.Len(t, plans, 6)
}

func TestCheckoutFlow(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, domain.User{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember})

	api.gw.On("CreateOrGetCustomer", mock.Anything, mock.Anything).Return("cus_1", nil)
	api.gw.On("CreateSubscription", mock.Anything, mock.Anything).
		Return(&gateway.Payment{ID: "sub_1", InvoiceURL: "https://pay.example.com/sub_1"}, nil)

	w := api.do(http.MethodPost, "/api/v1/checkout", token(t, "u1"), map[string]string{
		"planType":      "annual",
		"billingMethod": "CREDIT_CARD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	result := decode[domain.CheckoutResult](t, w)
	assert.Equal(t, "https://pay.example.com/sub_1", result.PaymentURL)
	assert.Equal(t, domain.StatusTrial, result.Plan.Status)

	w = api.do(http.MethodGet, "/api/v1/plan", token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[service.PlanStatusView](t, w)
	assert.Equal(t, domain.StatusTrial, view.Status)
	assert.False(t, view.HasPremiumAccess)

	w = api.do(http.MethodGet, "/api/v1/plan/await?attempts=2&interval=1ms", token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	awaited := decode[service.AwaitResult](t, w)
	assert.True(t, awaited.Pending)
	assert.Equal(t, service.MessageAwaitingConfirmation, awaited.Message)

	api.gw.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(&domain.GatewayEvent{
		ID:        "evt_1",
		Type:      domain.GatewayEventPaymentConfirmed,
		GatewayID: "sub_1",
	}, nil)

	w = api.do(http.MethodPost, "/api/v1/webhooks/mock", "", map[string]string{"event": "PAYMENT_CONFIRMED"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed"`)

	w = api.do(http.MethodPost, "/api/v1/webhooks/mock", "", map[string]string{"event": "PAYMENT_CONFIRMED"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate"`)

	w = api.do(http.MethodGet, "/api/v1/plan", token(t, "u1"), nil)
	view = decode[service.PlanStatusView](t, w)
	assert.Equal(t, domain.StatusActive, view.Status)
	assert.True(t, view.HasPremiumAccess)
}

func TestCheckoutValidation(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, domain.User{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember})

	w := api.do(http.MethodPost, "/api/v1/checkout", token(t, "u1"), map[string]string{
		"planType":      "monthly",
		"billingMethod": "PIX",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
	assert.Contains(t, w.Body.String(), "taxId")
	api.gw.AssertNotCalled(t, "CreateOrGetCustomer", mock.Anything, mock.Anything)

	w = api.do(http.MethodPost, "/api/v1/checkout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutGatewayError(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, domain.User{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember})

	api.gw.On("CreateOrGetCustomer", mock.Anything, mock.Anything).
		Return("", domain.NewPaymentGatewayError("mock", "create_customer", "invalid_cpf", "CPF inválido", 400, nil))

	w := api.do(http.MethodPost, "/api/v1/checkout", token(t, "u1"), map[string]string{
		"planType":      "monthly",
		"billingMethod": "BOLETO",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "CPF inválido")
}

func TestCancelWithoutSubscription(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, domain.User{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember})

	w := api.do(http.MethodPost, "/api/v1/plan/cancel", token(t, "u1"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookErrors(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/webhooks/unknown", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	api.gw.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrInvalidWebhook, errors.New("bad token"))).Once()
	w = api.do(http.MethodPost, "/api/v1/webhooks/mock", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// подтверждение без маппинга и без ссылки на пользователя: шлюз должен повторить
	api.gw.On("ParseWebhook", mock.Anything, mock.Anything, mock.Anything).Return(&domain.GatewayEvent{
		ID:        "evt_9",
		Type:      domain.GatewayEventPaymentConfirmed,
		GatewayID: "sub_unknown",
	}, nil).Once()
	w = api.do(http.MethodPost, "/api/v1/webhooks/mock", "", map[string]string{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.addUser(t, domain.User{ID: "adm", Email: "adm@example.com", Role: domain.RoleAdmin})
	api.addUser(t, domain.User{ID: "u1", Email: "u1@example.com", Role: domain.RoleMember})

	body := map[string]any{
		"planType":  "annual",
		"status":    "active",
		"startDate": time.Now().UTC().Format(time.RFC3339),
		"endDate":   time.Now().UTC().Add(365 * 24 * time.Hour).Format(time.RFC3339),
	}

	w := api.do(http.MethodPut, "/api/v1/admin/users/u1/plan", token(t, "u1"), body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPut, "/api/v1/admin/users/u1/plan", token(t, "adm"), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[service.PlanStatusView](t, w)
	assert.True(t, view.IsActive)

	w = api.do(http.MethodPost, "/api/v1/admin/users/u1/plan/refresh", token(t, "adm"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodGet, "/api/v1/admin/webhooks/not-a-uuid", token(t, "adm"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
