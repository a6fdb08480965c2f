// Package asaas клиент REST API Asaas (PIX, boleto, cartão).
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/gateway"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

const providerName = "asaas"

// Client представляет клиент для работы с API Asaas
type Client struct {
	baseURL      string
	apiKey       string
	webhookToken string
	httpClient   *http.Client
	log          *logger.Logger
}

var _ gateway.Gateway = (*Client)(nil)

// Config конфигурация для клиента Asaas
type Config struct {
	BaseURL      string
	APIKey       string
	WebhookToken string
	Timeout      time.Duration
}

// NewClient создает новый клиент Asaas
func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		webhookToken: cfg.WebhookToken,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
	}
}

// Name возвращает имя провайдера
func (c *Client) Name() string {
	return providerName
}

// ErrorResponse представляет ошибку от API Asaas
type ErrorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// listResponse общий формат списков Asaas
type listResponse[T any] struct {
	HasMore    bool `json:"hasMore"`
	TotalCount int  `json:"totalCount"`
	Data       []T  `json:"data"`
}

// do выполняет запрос и декодирует ответ в out (если out != nil).
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("asaas: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("asaas: failed to create request: %w", err)
	}

	// Добавляем заголовки
	req.Header.Set("access_token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Выполняем запрос
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		gwErr := domain.NewPaymentGatewayError(providerName, op, "network_error", "payment gateway unreachable", 0, err)
		gwErr.Retryable = true
		c.log.Errorw("Asaas request failed", "operation", op, "path", path, "error", err)
		return gwErr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("asaas: failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return c.apiError(op, resp.StatusCode, raw)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("asaas: failed to decode response: %w", err)
	}
	return nil
}

// apiError переводит ответ с ошибкой в PaymentGatewayError с сообщением провайдера.
func (c *Client) apiError(op string, status int, raw []byte) error {
	code := fmt.Sprintf("http_%d", status)
	message := http.StatusText(status)

	var errResp ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err == nil && len(errResp.Errors) > 0 {
		code = errResp.Errors[0].Code
		message = errResp.Errors[0].Description
	}

	gwErr := domain.NewPaymentGatewayError(providerName, op, code, message, status, nil)
	gwErr.Retryable = gateway.RetryableStatus(status)

	c.log.Errorw("Asaas API error",
		"operation", op,
		"status", status,
		"code", code,
		"message", message,
	)
	return gwErr
}
