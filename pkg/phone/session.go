package phone

import (
	"context"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/mediabridge"
)

// Session владеет максимум одной активной сессией вызова и ведет ее машину
// состояний от начала до конца, для исходящего и входящего направлений.
//
// Локальные операции оптимистично выставляют промежуточные состояния
// (Calling, Ending) до завершения сетевой операции; события стека являются
// источником истины для переходов, зависящих от удаленной стороны
// (Established, Terminated), и сверяются с текущим состоянием.
// Конфликтующие попытки второго вызова отклоняются: исходящая ошибкой,
// входящая автоматическим отказом.
type Session struct {
	mu  sync.Mutex
	fsm *fsm.FSM

	conn   *Connection
	bridge *mediabridge.Bridge
	sink   mediabridge.PlaybackSink

	handle      ICallHandle
	remoteParty string

	log     *slog.Logger
	metrics *Metrics
}

// SessionOption настраивает Session при создании
type SessionOption func(*Session)

// WithSessionLogger задает логгер контроллера
func WithSessionLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithSessionMetrics подключает сбор метрик вызовов
func WithSessionMetrics(m *Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// NewSession создает контроллер вызова в состоянии Idle.
// conn дает доступ к клиенту сигнализации и состоянию регистрации,
// bridge и sink используются при установлении и завершении медиа.
func NewSession(conn *Connection, bridge *mediabridge.Bridge, sink mediabridge.PlaybackSink, opts ...SessionOption) *Session {
	s := &Session{
		conn:   conn,
		bridge: bridge,
		sink:   sink,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.initFSM()
	return s
}

/*
FSM вызова:

[Idle] → [Calling] → [InCall] → [Ending] → [Idle]
[Idle] → [Ringing] → [InCall]
[Calling] → [Ending] | [Idle]
[Ringing] → [Ending] | [Idle]
[InCall]  → [Idle]
[Ending]  → [Idle]

Прямые переходы в Idle обслуживают гонку локального terminate
с событием Terminated от стека: оба пути сходятся в одной
идемпотентной очистке.
*/
func (s *Session) initFSM() {
	st := func(cs CallState) string { return string(cs) }
	s.fsm = fsm.NewFSM(
		st(Idle),
		fsm.Events{
			{Name: formEventName(st(Idle), st(Calling)), Src: []string{st(Idle)}, Dst: st(Calling)},
			{Name: formEventName(st(Idle), st(Ringing)), Src: []string{st(Idle)}, Dst: st(Ringing)},
			{Name: formEventName(st(Calling), st(InCall)), Src: []string{st(Calling)}, Dst: st(InCall)},
			{Name: formEventName(st(Ringing), st(InCall)), Src: []string{st(Ringing)}, Dst: st(InCall)},
			{Name: formEventName(st(Calling), st(Ending)), Src: []string{st(Calling)}, Dst: st(Ending)},
			{Name: formEventName(st(Ringing), st(Ending)), Src: []string{st(Ringing)}, Dst: st(Ending)},
			{Name: formEventName(st(InCall), st(Ending)), Src: []string{st(InCall)}, Dst: st(Ending)},
			{Name: formEventName(st(Calling), st(Idle)), Src: []string{st(Calling)}, Dst: st(Idle)},
			{Name: formEventName(st(Ringing), st(Idle)), Src: []string{st(Ringing)}, Dst: st(Idle)},
			{Name: formEventName(st(InCall), st(Idle)), Src: []string{st(InCall)}, Dst: st(Idle)},
			{Name: formEventName(st(Ending), st(Idle)), Src: []string{st(Ending)}, Dst: st(Idle)},
		},
		fsm.Callbacks{
			"after_event": s.afterStateChange,
		})
}

func (s *Session) afterStateChange(ctx context.Context, e *fsm.Event) {
	s.log.Debug("call state changed",
		slog.String("from", e.Src),
		slog.String("to", e.Dst))
	if s.metrics != nil {
		s.metrics.setCallState(CallState(e.Dst))
	}
}

func (s *Session) setStateLocked(dst CallState) {
	cur := s.fsm.Current()
	if cur == string(dst) {
		return
	}
	if err := s.fsm.Event(context.TODO(), formEventName(cur, string(dst))); err != nil {
		s.log.Error("call state transition failed",
			slog.String("from", cur),
			slog.String("to", string(dst)),
			slog.String("error", err.Error()))
	}
}

// State возвращает текущее состояние вызова
func (s *Session) State() CallState {
	return CallState(s.fsm.Current())
}

// RemoteParty возвращает идентификатор удаленной стороны текущего вызова,
// пустую строку когда вызова нет
func (s *Session) RemoteParty() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteParty
}

// Originate инициирует исходящий вызов на набранный номер.
//
// Предусловия: подключение в состоянии Connected, номер непуст,
// активного вызова нет. Нарушение предусловия отклоняется синхронно,
// состояние вызова не меняется. Ошибка отправки приглашения возвращает
// вызов в Idle.
func (s *Session) Originate(ctx context.Context, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if number == "" {
		return errors.Wrap(ErrConfigInvalid, "destination number is empty")
	}
	if s.conn.State() != Connected {
		return errors.Wrap(ErrTransportFailure, "not connected to registrar")
	}
	if s.State() != Idle {
		return errors.Wrapf(ErrConflictingSession, "call already in state %s", s.State())
	}

	client := s.conn.Client()
	if client == nil {
		return errors.Wrap(ErrTransportFailure, "signaling client is not available")
	}

	target := client.IdentityURI(number)
	s.log.Debug("originating call",
		slog.String("number", number),
		slog.String("target", target.String()))

	s.setStateLocked(Calling)

	handle, err := client.Invite(ctx, target)
	if err != nil {
		s.setStateLocked(Idle)
		if s.metrics != nil {
			s.metrics.callFailed("outgoing")
		}
		return errors.Wrap(coreError(err), "failed to send invite")
	}

	s.handle = handle
	s.remoteParty = remotePartyOf(handle)
	handle.OnStateChange(s.handleStateListener(handle))

	if s.metrics != nil {
		s.metrics.callStarted("outgoing")
	}
	return nil
}

// HandleIncoming принимает уведомление о входящей сессии.
// Регистрируется как обработчик входящих на контроллере подключения.
//
// Пока активен другой вызов, вторая входящая сессия автоматически
// отклоняется, текущее состояние не меняется.
func (s *Session) HandleIncoming(handle ICallHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Idle {
		s.log.Debug("declining incoming call while busy",
			slog.String("remote", handle.RemoteParty()),
			slog.String("state", s.State().String()))
		go func() {
			if err := handle.Reject(context.Background()); err != nil {
				s.log.Debug("busy decline failed", slog.String("error", err.Error()))
			}
		}()
		if s.metrics != nil {
			s.metrics.callDeclinedBusy()
		}
		return
	}

	s.handle = handle
	s.remoteParty = remotePartyOf(handle)
	handle.OnStateChange(s.handleStateListener(handle))
	s.setStateLocked(Ringing)

	s.log.Debug("incoming call",
		slog.String("remote", s.remoteParty))
	if s.metrics != nil {
		s.metrics.callStarted("incoming")
	}
}

// Accept отвечает на входящий вызов с включенным медиа.
// Валиден только в состоянии Ringing для входящего хендла.
func (s *Session) Accept(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Ringing || s.handle == nil || s.handle.Kind() != SessionIncoming {
		return errors.Wrap(ErrNoActiveSession, "no ringing incoming call to accept")
	}
	if s.conn.State() != Connected {
		return errors.Wrap(ErrTransportFailure, "not connected to registrar")
	}

	if err := s.handle.Accept(ctx); err != nil {
		s.log.Error("accept failed", slog.String("error", err.Error()))
		return errors.Wrap(coreError(err), "failed to accept call")
	}

	s.establishLocked(s.handle)
	return nil
}

// Reject отклоняет входящий вызов до ответа.
// Для любого другого состояния или исходящего хендла возвращает
// ErrNoActiveSession.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Ringing || s.handle == nil || s.handle.Kind() != SessionIncoming {
		return errors.Wrap(ErrNoActiveSession, "no ringing incoming call to reject")
	}

	err := s.handle.Reject(ctx)
	s.clearLocked(s.handle)
	if err != nil {
		return errors.Wrap(coreError(err), "failed to reject call")
	}
	return nil
}

// Terminate завершает активный вызов.
//
// Состояние Ending выставляется сразу, до завершения сетевой операции.
// Выбор примитива (cancel до ответа, bye после) делает хендл по своему
// состоянию. Повторный вызов при отсутствии хендла это успешный no-op.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := s.handle
	if handle == nil {
		// очистка нулевого хендла идемпотентна
		return nil
	}

	s.setStateLocked(Ending)

	err := handle.Terminate(ctx)
	s.clearLocked(handle)
	if err != nil {
		s.log.Error("terminate failed", slog.String("error", err.Error()))
		return errors.Wrap(coreError(err), "failed to terminate call")
	}
	return nil
}

// handleStateListener возвращает слушателя событий конкретного хендла.
// Захват хендла отсекает устаревшие события завершенной сессии,
// которые могут прийти после очистки и начала нового вызова.
func (s *Session) handleStateListener(handle ICallHandle) func(HandleState) {
	return func(st HandleState) {
		s.onHandleState(handle, st)
	}
}

func (s *Session) onHandleState(handle ICallHandle, st HandleState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != handle {
		// событие сессии, которой контроллер уже не владеет
		return
	}

	s.log.Debug("session event",
		slog.String("handle", handle.ID()),
		slog.String("event", string(st)))

	switch st {
	case HandleEstablished:
		s.establishLocked(handle)
	case HandleTerminating:
		if cur := s.State(); cur != Ending && cur != Idle {
			s.setStateLocked(Ending)
		}
	case HandleTerminated:
		s.clearLocked(handle)
	}
}

// establishLocked переводит вызов в InCall и привязывает медиа.
// Повторное событие установления для уже активного вызова игнорируется,
// привязка медиа выполняется ровно один раз.
func (s *Session) establishLocked(handle ICallHandle) {
	cur := s.State()
	if cur != Calling && cur != Ringing {
		return
	}
	s.setStateLocked(InCall)
	if s.metrics != nil {
		s.metrics.callAnswered(handle.Kind().String())
	}

	if err := s.bridge.Attach(handle, s.sink); err != nil {
		// сигнализация состоялась, отсутствие звука не роняет вызов
		s.log.Error("media attach failed",
			slog.String("handle", handle.ID()),
			slog.String("error", errors.Wrap(ErrMediaAttachFailure, err.Error()).Error()))
		if s.metrics != nil {
			s.metrics.mediaAttachFailed()
		}
	}
}

// clearLocked идемпотентная очистка завершенной сессии: состояние Idle,
// хендл и идентификатор удаленной стороны сброшены, медиа освобождено.
// Гонка локального terminate и события Terminated сходится здесь.
func (s *Session) clearLocked(handle ICallHandle) {
	if s.handle != handle || s.handle == nil {
		return
	}
	s.handle = nil
	s.remoteParty = ""
	s.setStateLocked(Idle)
	s.bridge.Release(s.sink)
	if s.metrics != nil {
		s.metrics.callEnded()
	}
}

// remotePartyOf извлекает идентификатор удаленной стороны из хендла,
// подставляя определенный плейсхолдер при его отсутствии
func remotePartyOf(handle ICallHandle) string {
	if rp := handle.RemoteParty(); rp != "" {
		return rp
	}
	return "unknown"
}
