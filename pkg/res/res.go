package res

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/domain"
)

// ErrorResponse представляет формат JSON-ответа для ошибок.
type ErrorResponse struct {
	Error     string `json:"error"`                // Сообщение об ошибке (для пользователя)
	ErrorCode string `json:"error_code,omitempty"` // Код ошибки (для программной обработки)
	Details   any    `json:"details,omitempty"`    // Детали ошибки (например, ошибки валидации)
}

// JSON отправляет JSON-ответ с заданным статусом.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, data)
}

// Error сопоставляет ошибку с HTTP статусом и отправляет ответ.
// Ошибка добавляется в c.Errors для middleware логирования.
func Error(c *gin.Context, err error) {
	status, body := FromError(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}

// FromError сопоставляет ошибку с HTTP статусом.
func FromError(err error) (int, ErrorResponse) {
	var (
		verrs    domain.ValidationErrors
		gwErr    *domain.PaymentGatewayError
		notFound *domain.NotFoundError
	)

	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", ErrorCode: "validation_error", Details: verrs}
	case errors.Is(err, domain.ErrUnknownPlan):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), ErrorCode: "unknown_plan"}
	case errors.Is(err, domain.ErrInvalidWebhook):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid webhook", ErrorCode: "invalid_webhook"}
	case errors.Is(err, domain.ErrInvalidPlanState):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), ErrorCode: "invalid_plan_state"}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: notFound.Error(), ErrorCode: "not_found"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found", ErrorCode: "not_found"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), ErrorCode: "invalid_transition"}
	case errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict, ErrorResponse{Error: "plan was updated concurrently, try again", ErrorCode: "version_conflict"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", ErrorCode: "unauthenticated"}
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", ErrorCode: "forbidden"}
	case errors.As(err, &gwErr):
		status := http.StatusBadGateway
		if gwErr.Code == "circuit_open" {
			status = http.StatusServiceUnavailable
		}
		return status, ErrorResponse{Error: gwErr.Message, ErrorCode: "payment_gateway_error", Details: gin.H{"provider": gwErr.Provider, "code": gwErr.Code}}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", ErrorCode: "internal_error"}
	}
}
