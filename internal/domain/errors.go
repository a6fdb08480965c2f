package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrValidation не заполнены обязательные поля
	ErrValidation = errors.New("validation failed")

	// ErrPaymentGateway вызов платежного шлюза завершился ошибкой
	ErrPaymentGateway = errors.New("payment gateway error")

	// ErrReconciliationTimeout опрос исчерпал попытки, платеж еще не подтвержден
	ErrReconciliationTimeout = errors.New("reconciliation timeout")

	// ErrVersionConflict условное обновление не применено: документ изменился
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidTransition недопустимый переход статуса плана
	ErrInvalidTransition = errors.New("invalid plan transition")

	// ErrUnknownPlan тип плана отсутствует в каталоге
	ErrUnknownPlan = errors.New("unknown plan type")

	// ErrInvalidWebhook вебхук не прошел проверку подписи или формата
	ErrInvalidWebhook = errors.New("invalid webhook")

	// ErrInvalidPlanState сохраненный план нарушает инварианты
	ErrInvalidPlanState = errors.New("invalid plan state")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized пользователь не авторизован
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError представляет ошибку валидации
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors представляет набор ошибок валидации
type ValidationErrors []ValidationError

// Error реализует интерфейс error
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	if len(e) == 1 {
		return fmt.Sprintf("validation failed: %s - %s", e[0].Field, e[0].Message)
	}

	return fmt.Sprintf("validation failed: %d errors", len(e))
}

// Is позволяет проверять errors.Is(err, ErrValidation)
func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Add добавляет ошибку валидации
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors проверяет наличие ошибок
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields возвращает список полей с ошибками
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

// GetByField возвращает сообщение об ошибке для указанного поля
func (e ValidationErrors) GetByField(field string) string {
	for _, err := range e {
		if err.Field == field {
			return err.Message
		}
	}
	return ""
}

// PaymentGatewayError представляет ошибку платежного шлюза.
// Message содержит текст, который вернул провайдер.
type PaymentGatewayError struct {
	Provider   string
	Operation  string
	Code       string
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

// Error реализует интерфейс error
func (e *PaymentGatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed [%s]: %s: %v", e.Provider, e.Operation, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s %s failed [%s]: %s", e.Provider, e.Operation, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *PaymentGatewayError) Unwrap() error {
	return e.Err
}

// Is позволяет проверять errors.Is(err, ErrPaymentGateway)
func (e *PaymentGatewayError) Is(target error) bool {
	return target == ErrPaymentGateway
}

// NewPaymentGatewayError создает новую ошибку шлюза
func NewPaymentGatewayError(provider, operation, code, message string, statusCode int, err error) *PaymentGatewayError {
	return &PaymentGatewayError{
		Provider:   provider,
		Operation:  operation,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// ReconciliationTimeout описывает исчерпанный опрос. Это не сбой:
// платеж может подтвердиться позже (boleto, перевод).
type ReconciliationTimeout struct {
	UserID   string
	Attempts int
}

// Error реализует интерфейс error
func (e *ReconciliationTimeout) Error() string {
	return fmt.Sprintf("payment for user %s not confirmed after %d attempts", e.UserID, e.Attempts)
}

// Is позволяет проверять errors.Is(err, ErrReconciliationTimeout)
func (e *ReconciliationTimeout) Is(target error) bool {
	return target == ErrReconciliationTimeout
}
