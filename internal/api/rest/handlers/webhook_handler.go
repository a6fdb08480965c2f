package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/res"
)

// maxWebhookBody ограничение размера тела вебхука
const maxWebhookBody = 1 << 20

// WebhookProcessor обрабатывает входящий вебхук.
type WebhookProcessor interface {
	Process(ctx context.Context, provider string, payload []byte, header http.Header) (*domain.WebhookEvent, error)
}

// WebhookHandler обработчик вебхуков платежных шлюзов
type WebhookHandler struct {
	webhooks WebhookProcessor
	log      *logger.Logger
}

// NewWebhookHandler создает обработчик вебхуков
func NewWebhookHandler(webhooks WebhookProcessor, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, log: log}
}

// HandleWebhook отвечает 200 на обработанные и повторные события,
// 400 на неподписанные и 500 на временные сбои, чтобы шлюз повторил доставку.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	provider := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log.Errorw("Failed to read webhook body", "provider", provider, "error", err)
		res.JSON(c, http.StatusBadRequest, res.ErrorResponse{Error: "failed to read webhook body", ErrorCode: "bad_request"})
		return
	}

	event, err := h.webhooks.Process(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidWebhook) {
			res.Error(c, err)
			return
		}
		_ = c.Error(err)
		res.JSON(c, http.StatusInternalServerError, res.ErrorResponse{Error: "webhook processing failed", ErrorCode: "retry_later"})
		return
	}

	res.JSON(c, http.StatusOK, gin.H{"received": true, "status": event.Status})
}
