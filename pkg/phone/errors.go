package phone

import "fmt"

// ErrorCategory категории ошибок ядра для классификации
type ErrorCategory string

const (
	ErrorCategoryConfig    ErrorCategory = "CONFIG"
	ErrorCategoryTransport ErrorCategory = "TRANSPORT"
	ErrorCategoryAuth      ErrorCategory = "AUTH"
	ErrorCategoryState     ErrorCategory = "STATE"
	ErrorCategoryMedia     ErrorCategory = "MEDIA"
)

// Error структурированная ошибка ядра звонков.
// Все ошибки ядра локально восстановимы: повторный connect или originate
// после исправления причины допустим всегда.
type Error struct {
	Code     string
	Category ErrorCategory
	Message  string
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Сентинельные ошибки ядра. Сравниваются через errors.Is,
// обертки через errors.Wrap сохраняют цепочку.
var (
	// ErrConfigInvalid конфигурация не прошла валидацию
	ErrConfigInvalid = &Error{
		Code:     "CONFIG_INVALID",
		Category: ErrorCategoryConfig,
		Message:  "configuration is missing a required field",
	}

	// ErrTransportFailure регистрация или соединение не удались
	ErrTransportFailure = &Error{
		Code:     "TRANSPORT_FAILURE",
		Category: ErrorCategoryTransport,
		Message:  "transport or registration failure",
	}

	// ErrAuthRejected регистратор отклонил учетные данные
	ErrAuthRejected = &Error{
		Code:     "AUTH_REJECTED",
		Category: ErrorCategoryAuth,
		Message:  "registrar rejected credentials",
	}

	// ErrNoActiveSession операция требует сессию, которой нет
	ErrNoActiveSession = &Error{
		Code:     "NO_ACTIVE_SESSION",
		Category: ErrorCategoryState,
		Message:  "operation requires an active session",
	}

	// ErrConflictingSession попытка второго одновременного вызова
	ErrConflictingSession = &Error{
		Code:     "CONFLICTING_SESSION",
		Category: ErrorCategoryState,
		Message:  "another session is already active",
	}

	// ErrMediaAttachFailure нет пригодного транспорта или треков при установлении
	ErrMediaAttachFailure = &Error{
		Code:     "MEDIA_ATTACH_FAILURE",
		Category: ErrorCategoryMedia,
		Message:  "failed to attach negotiated media",
	}

	// ErrAlreadyConnected connect при существующем клиенте,
	// сначала требуется disconnect
	ErrAlreadyConnected = &Error{
		Code:     "ALREADY_CONNECTED",
		Category: ErrorCategoryState,
		Message:  "already connected, disconnect first",
	}
)
