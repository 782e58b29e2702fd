package phone

import (
	"context"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
)

// Connection владеет жизненным циклом регистрации на сигнальном регистраторе.
//
// Контроллер эксклюзивно владеет клиентом сигнализации: клиент создается
// в Connect и уничтожается в Disconnect, ссылка никогда не переживает
// попытку отключения. Состояние регистрации видно через State.
type Connection struct {
	mu      sync.Mutex
	fsm     *fsm.FSM
	factory SignalingFactory
	client  ISignaling

	log     *slog.Logger
	metrics *Metrics
}

// ConnectionOption настраивает Connection при создании
type ConnectionOption func(*Connection)

// WithConnectionLogger задает логгер контроллера
func WithConnectionLogger(log *slog.Logger) ConnectionOption {
	return func(c *Connection) { c.log = log }
}

// WithConnectionMetrics подключает сбор метрик регистрации
func WithConnectionMetrics(m *Metrics) ConnectionOption {
	return func(c *Connection) { c.metrics = m }
}

// NewConnection создает контроллер подключения в состоянии Disconnected.
// factory строит клиента сигнального стека на каждый успешный connect.
func NewConnection(factory SignalingFactory, opts ...ConnectionOption) *Connection {
	c := &Connection{factory: factory}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.initFSM()
	return c
}

/*
FSM подключения:

[Disconnected] → [Connecting] → [Connected]
[Connecting]   → [Error] | [Disconnected]
[Connected]    → [Disconnected] | [Error]
[Error]        → [Disconnected] | [Connecting]

Error всегда восстановим через disconnect, затем connect.
*/
func (c *Connection) initFSM() {
	st := func(s ConnState) string { return string(s) }
	c.fsm = fsm.NewFSM(
		st(Disconnected),
		fsm.Events{
			{Name: formEventName(st(Disconnected), st(Connecting)), Src: []string{st(Disconnected)}, Dst: st(Connecting)},
			{Name: formEventName(st(ConnError), st(Connecting)), Src: []string{st(ConnError)}, Dst: st(Connecting)},
			{Name: formEventName(st(Connecting), st(Connected)), Src: []string{st(Connecting)}, Dst: st(Connected)},
			{Name: formEventName(st(Connecting), st(ConnError)), Src: []string{st(Connecting)}, Dst: st(ConnError)},
			{Name: formEventName(st(Connecting), st(Disconnected)), Src: []string{st(Connecting)}, Dst: st(Disconnected)},
			{Name: formEventName(st(Connected), st(Disconnected)), Src: []string{st(Connected)}, Dst: st(Disconnected)},
			{Name: formEventName(st(Connected), st(ConnError)), Src: []string{st(Connected)}, Dst: st(ConnError)},
			{Name: formEventName(st(ConnError), st(Disconnected)), Src: []string{st(ConnError)}, Dst: st(Disconnected)},
		},
		fsm.Callbacks{
			"after_event": c.afterStateChange,
		})
}

func (c *Connection) afterStateChange(ctx context.Context, e *fsm.Event) {
	c.log.Debug("connection state changed",
		slog.String("from", e.Src),
		slog.String("to", e.Dst))
	if c.metrics != nil {
		c.metrics.setConnState(ConnState(e.Dst))
	}
}

func (c *Connection) setState(dst ConnState) {
	cur := c.fsm.Current()
	if cur == string(dst) {
		return
	}
	if err := c.fsm.Event(context.TODO(), formEventName(cur, string(dst))); err != nil {
		c.log.Error("connection state transition failed",
			slog.String("from", cur),
			slog.String("to", string(dst)),
			slog.String("error", err.Error()))
	}
}

// State возвращает текущее состояние подключения
func (c *Connection) State() ConnState {
	return ConnState(c.fsm.Current())
}

// Client возвращает активного клиента сигнализации, nil если подключения нет
func (c *Connection) Client() ISignaling {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Connect валидирует конфигурацию, строит клиента сигнального стека,
// регистрирует обработчик входящих сессий и запускает регистрацию.
//
// При существующем клиенте возвращает ErrAlreadyConnected, не трогая его:
// вызывающая сторона обязана сначала выполнить Disconnect.
// Ошибки конфигурации отклоняются синхронно, состояние не меняется.
// Ошибки транспорта и авторизации переводят подключение в Error
// и возвращаются вызывающей стороне.
func (c *Connection) Connect(ctx context.Context, cfg Config, onIncoming func(ICallHandle)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return ErrAlreadyConnected
	}

	ep, err := cfg.Endpoint()
	if err != nil {
		return err
	}

	c.log.Debug("connecting",
		slog.String("registrar", ep.Registrar.String()),
		slog.String("username", ep.Username))
	if c.metrics != nil {
		c.metrics.registrationAttempt()
	}

	c.setState(Connecting)

	client, err := c.factory(ep)
	if err != nil {
		c.setState(ConnError)
		if c.metrics != nil {
			c.metrics.registrationFailure()
		}
		return errors.Wrap(coreError(err), "failed to create signaling client")
	}

	client.OnIncomingSession(onIncoming)

	if err := client.Start(ctx); err != nil {
		// клиент не должен остаться ни запущенным, ни сохраненным
		_ = client.Stop(context.WithoutCancel(ctx))
		c.setState(ConnError)
		if c.metrics != nil {
			c.metrics.registrationFailure()
		}
		return errors.Wrap(coreError(err), "registration failed")
	}

	c.client = client
	c.setState(Connected)
	c.log.Debug("connected", slog.String("registrar", ep.Registrar.String()))
	return nil
}

// Disconnect останавливает клиента сигнализации и освобождает ссылку.
//
// Без клиента это успешный no-op, но состояние все равно приводится
// к Disconnected, что восстанавливает подключение после Error.
// Ошибка остановки возвращается, однако ссылка на клиента сбрасывается
// в любом случае.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		c.setState(Disconnected)
		return nil
	}

	err := c.client.Stop(ctx)
	c.client = nil
	c.setState(Disconnected)
	if err != nil {
		c.log.Error("signaling client stop failed", slog.String("error", err.Error()))
		return errors.Wrap(err, "failed to stop signaling client")
	}
	c.log.Debug("disconnected")
	return nil
}

// coreError приводит ошибку стека к таксономии ядра:
// уже типизированные ошибки проходят как есть,
// остальные считаются транспортными.
func coreError(err error) error {
	if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrTransportFailure) {
		return err
	}
	return errors.Wrap(ErrTransportFailure, err.Error())
}
