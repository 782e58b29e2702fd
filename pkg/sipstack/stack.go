package sipstack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/arzzra/phone/pkg/mediabridge"
	"github.com/arzzra/phone/pkg/phone"
)

// Option настраивает Stack при создании
type Option func(*Stack)

// WithListenAddr задает локальный адрес SIP транспорта
func WithListenAddr(host string, port int) Option {
	return func(s *Stack) {
		s.listenHost = host
		s.listenPort = port
	}
}

// WithUserAgent задает значение заголовка User-Agent
func WithUserAgent(name string) Option {
	return func(s *Stack) { s.userAgent = name }
}

// WithExpires задает срок регистрации в секундах
func WithExpires(seconds int) Option {
	return func(s *Stack) { s.expires = seconds }
}

// WithLogger задает логгер стека
func WithLogger(log *slog.Logger) Option {
	return func(s *Stack) { s.log = log }
}

// WithMediaConfig задает параметры медиа транспорта новых сессий
func WithMediaConfig(cfg mediabridge.TransportConfig) Option {
	return func(s *Stack) { s.mediaCfg = cfg }
}

// Stack клиент сигнального стека поверх sipgo.
// Реализует phone.ISignaling для одного endpoint: жизненный цикл стека
// совпадает с жизненным циклом подключения.
type Stack struct {
	ep phone.Endpoint

	listenHost string
	listenPort int
	transport  string
	userAgent  string
	expires    int
	mediaCfg   mediabridge.TransportConfig
	log        *slog.Logger

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	contact sip.ContactHeader

	mu         sync.Mutex
	sessions   map[string]*callSession
	onIncoming func(phone.ICallHandle)
	registered bool

	// REGISTER держит стабильный Call-ID и растущий CSeq
	// на все время жизни привязки
	regCallID string
	regSeq    atomic.Uint32

	serveCancel context.CancelFunc
}

// New создает стек для endpoint. Транспорт не запускается до Start.
func New(ep phone.Endpoint, opts ...Option) (*Stack, error) {
	s := &Stack{
		ep:         ep,
		listenHost: "127.0.0.1",
		listenPort: 5060,
		transport:  "udp",
		userAgent:  "Phone/1.0",
		expires:    3600,
		sessions:   make(map[string]*callSession),
		regCallID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.contact = sip.ContactHeader{
		Address: sip.Uri{
			Scheme: "sip",
			User:   ep.Username,
			Host:   s.listenHost,
			Port:   s.listenPort,
		},
	}
	return s, nil
}

// Factory адаптирует конструктор стека к phone.SignalingFactory
func Factory(opts ...Option) phone.SignalingFactory {
	return func(ep phone.Endpoint) (phone.ISignaling, error) {
		return New(ep, opts...)
	}
}

// OnIncomingSession регистрирует обработчик входящих сессий
func (s *Stack) OnIncomingSession(fn func(phone.ICallHandle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIncoming = fn
}

// IdentityURI строит URI абонента из номера и домена регистратора
func (s *Stack) IdentityURI(user string) sip.Uri {
	return sip.Uri{
		Scheme: s.ep.Registrar.Scheme,
		User:   user,
		Host:   s.ep.Registrar.Host,
		Port:   s.ep.Registrar.Port,
	}
}

func (s *Stack) identity() sip.Uri {
	return s.IdentityURI(s.ep.Username)
}

// Start поднимает sipgo компоненты, запускает слушателя транспорта
// и блокируется до результата регистрации.
// При ошибке регистрации вызывающая сторона обязана выполнить Stop.
func (s *Stack) Start(ctx context.Context) error {
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(s.userAgent),
		sipgo.WithUserAgentHostname(s.listenHost),
	)
	if err != nil {
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return errors.Wrap(phone.ErrTransportFailure, err.Error())
	}
	s.ua, s.server, s.client = ua, server, client
	s.onRequests()

	serveCtx, cancel := context.WithCancel(context.Background())
	s.serveCancel = cancel

	listenAddr := fmt.Sprintf("%s:%d", s.listenHost, s.listenPort)
	go func() {
		if err := s.server.ListenAndServe(serveCtx, s.transport, listenAddr); err != nil {
			s.log.Error("sip listener stopped", slog.String("error", err.Error()))
		}
	}()

	if err := s.register(ctx, s.expires); err != nil {
		return err
	}

	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()

	go s.refreshLoop(serveCtx)

	s.log.Info("registered",
		slog.String("registrar", s.ep.Registrar.String()),
		slog.String("contact", s.contact.Address.String()))
	return nil
}

func (s *Stack) onRequests() {
	s.server.OnInvite(s.handleInvite)
	s.server.OnAck(s.handleAck)
	s.server.OnBye(s.handleBye)
	s.server.OnCancel(s.handleCancel)
}

// refreshLoop продлевает регистрацию до истечения срока привязки
func (s *Stack) refreshLoop(ctx context.Context) {
	interval := time.Duration(s.expires) * time.Second / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		regCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := s.register(regCtx, s.expires)
		cancel()
		if err != nil {
			s.log.Error("registration refresh failed",
				slog.String("error", err.Error()))
			continue
		}
		s.log.Debug("registration refreshed")
	}
}

// Stop завершает активные сессии, снимает регистрацию
// и освобождает sipgo компоненты. Повторный вызов безопасен.
func (s *Stack) Stop(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*callSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		sessions = append(sessions, cs)
	}
	registered := s.registered
	s.registered = false
	s.mu.Unlock()

	for _, cs := range sessions {
		if err := cs.Terminate(ctx); err != nil {
			s.log.Debug("session terminate on stop failed",
				slog.String("call_id", cs.ID()),
				slog.String("error", err.Error()))
		}
	}

	var unregErr error
	if registered && s.client != nil {
		unregErr = s.register(ctx, 0)
	}

	if s.serveCancel != nil {
		s.serveCancel()
		s.serveCancel = nil
	}
	if s.server != nil {
		_ = s.server.Close()
		s.server = nil
	}
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
	}
	if s.ua != nil {
		_ = s.ua.Close()
		s.ua = nil
	}

	if unregErr != nil {
		s.log.Debug("unregister failed", slog.String("error", unregErr.Error()))
		return errors.Wrap(unregErr, "unregister failed")
	}
	return nil
}

func (s *Stack) addSession(cs *callSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cs.id] = cs
}

func (s *Stack) findSession(callID string) *callSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[callID]
}

func (s *Stack) removeSession(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
}

func (s *Stack) incomingHandler() func(phone.ICallHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onIncoming
}
