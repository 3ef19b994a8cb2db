package domain

import (
	"errors"
	"fmt"
)

// Ошибки приложения
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotReady соединение с провайдером не установлено
	ErrNotReady = errors.New("billing client is not ready")

	// ErrAcknowledgementFailed не удалось подтвердить покупку после всех попыток
	ErrAcknowledgementFailed = errors.New("acknowledgement failed")

	// ErrProviderUnavailable провайдер биллинга недоступен
	ErrProviderUnavailable = errors.New("billing provider unavailable")

	// ErrUnsupportedProvider неизвестный провайдер в конфигурации
	ErrUnsupportedProvider = errors.New("unsupported billing provider")
)

// ProviderError представляет ошибку внешнего провайдера биллинга
type ProviderError struct {
	Provider    string
	Operation   string
	Code        int
	Message     string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ProviderError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s %s failed [%d]: %s: %v", e.Provider, e.Operation, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s %s failed [%d]: %s", e.Provider, e.Operation, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ProviderError) Unwrap() error {
	return e.OriginalErr
}

// Is позволяет сравнивать с ErrProviderUnavailable
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// NewProviderError создает новую ошибку провайдера
func NewProviderError(provider, operation string, code int, message string, err error) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Operation:   operation,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}
