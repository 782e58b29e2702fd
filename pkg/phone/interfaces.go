package phone

import (
	"context"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/phone/pkg/mediabridge"
)

// SessionKind вариант хендла сессии: исходящая или входящая
type SessionKind int

const (
	// SessionOutgoing вызов инициирован локально
	SessionOutgoing SessionKind = iota
	// SessionIncoming вызов получен от удаленной стороны
	SessionIncoming
)

func (k SessionKind) String() string {
	if k == SessionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// HandleState состояние сигнальной сессии, сообщаемое стеком.
// События доставляются в порядке их возникновения в транспорте и являются
// единственным источником истины для переходов, зависящих от сети.
type HandleState string

const (
	HandleInitial      HandleState = "Initial"
	HandleEstablishing HandleState = "Establishing"
	HandleEstablished  HandleState = "Established"
	HandleTerminating  HandleState = "Terminating"
	HandleTerminated   HandleState = "Terminated"
)

// ICallHandle непрозрачная ссылка на активную сигнальную сессию.
//
// Вариант хендла определяет допустимые примитивы завершения:
// Accept и Reject валидны только для входящей сессии до ответа,
// Terminate сам выбирает cancel или bye семантику по своему состоянию.
type ICallHandle interface {
	// ID уникальный идентификатор сессии
	ID() string
	// Kind вариант сессии
	Kind() SessionKind
	// State текущее состояние сессии
	State() HandleState
	// RemoteParty идентификатор удаленной стороны,
	// извлеченный в момент создания сессии
	RemoteParty() string

	// OnStateChange регистрирует слушателя смены состояний.
	// События доставляются последовательно, в порядке транспорта.
	OnStateChange(fn func(HandleState))

	// Accept отвечает на входящую сессию с включенным медиа
	Accept(ctx context.Context) error
	// Reject отклоняет входящую сессию до ответа
	Reject(ctx context.Context) error
	// Terminate завершает сессию: cancel до ответа, bye после
	Terminate(ctx context.Context) error

	// MediaTransport возвращает согласованный медиа транспорт сессии
	MediaTransport() (mediabridge.Transport, error)
}

// ISignaling клиент сигнального стека, привязанный к одному endpoint.
// Жизненный цикл клиента совпадает с жизненным циклом подключения:
// создается в connect, уничтожается в disconnect.
type ISignaling interface {
	// Start запускает транспорт и регистрацию, блокирует до результата
	Start(ctx context.Context) error
	// Stop снимает регистрацию и освобождает транспорт
	Stop(ctx context.Context) error

	// OnIncomingSession регистрирует обработчик входящих сессий.
	// Ровно одна регистрация активна пока клиент существует.
	OnIncomingSession(fn func(ICallHandle))

	// Invite инициирует исходящую сессию к цели
	Invite(ctx context.Context, target sip.Uri) (ICallHandle, error)

	// IdentityURI строит URI абонента из набранного номера
	// и домена регистратора
	IdentityURI(user string) sip.Uri
}

// SignalingFactory создает клиента сигнального стека для endpoint.
// Подменяется в тестах.
type SignalingFactory func(ep Endpoint) (ISignaling, error)
