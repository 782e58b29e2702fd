package phone

import "strings"

// ConnState представляет состояние регистрации на сигнальном регистраторе
type ConnState string

const (
	// Disconnected - начальное состояние, клиент сигнализации отсутствует
	Disconnected ConnState = "Disconnected"
	// Connecting - регистрация запущена, ответ регистратора еще не получен
	Connecting ConnState = "Connecting"
	// Connected - регистрация успешна, клиент доступен для вызовов
	Connected ConnState = "Connected"
	// ConnError - регистрация или транспорт завершились ошибкой,
	// восстанавливается через disconnect + connect
	ConnError ConnState = "Error"
)

func (s ConnState) String() string {
	return string(s)
}

// CallState представляет состояние единственного активного вызова
type CallState string

const (
	// Idle - вызова нет, хендл сессии пуст
	Idle CallState = "Idle"
	// Calling - отправлено приглашение исходящего вызова
	Calling CallState = "Calling"
	// Ringing - получено приглашение входящего вызова
	Ringing CallState = "Ringing"
	// InCall - вызов установлен, медиа привязано
	InCall CallState = "InCall"
	// Ending - завершение вызова в процессе
	Ending CallState = "Ending"
)

func (s CallState) String() string {
	return string(s)
}

// formEventName формирует имя события FSM по исходному и целевому состоянию
func formEventName(src, dst string) string {
	builder := strings.Builder{}
	builder.WriteString(src)
	builder.WriteString("_to_")
	builder.WriteString(dst)
	return builder.String()
}
