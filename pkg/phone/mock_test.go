package phone

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/rtp"

	"github.com/arzzra/phone/pkg/mediabridge"
)

// fakeTrack трек, блокирующий чтение до закрытия
type fakeTrack struct {
	packets   chan *rtp.Packet
	closeOnce sync.Once
}

func newFakeTrack() *fakeTrack {
	return &fakeTrack{packets: make(chan *rtp.Packet, 16)}
}

func (t *fakeTrack) ID() string         { return "audio-0" }
func (t *fakeTrack) PayloadType() uint8 { return mediabridge.PayloadTypePCMU }

func (t *fakeTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, ok := <-t.packets
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

func (t *fakeTrack) Close() error {
	t.closeOnce.Do(func() { close(t.packets) })
	return nil
}

type fakeReceiver struct{ track mediabridge.Track }

func (r *fakeReceiver) Track() mediabridge.Track { return r.track }

type fakeTransport struct {
	receivers []mediabridge.Receiver
}

func (t *fakeTransport) LocalAddr() *net.UDPAddr            { return &net.UDPAddr{} }
func (t *fakeTransport) Receivers() []mediabridge.Receiver  { return t.receivers }
func (t *fakeTransport) Close() error                       { return nil }

// fakeSink считает назначения потока и команды воспроизведения
type fakeSink struct {
	mu     sync.Mutex
	stream *mediabridge.Stream
	plays  int
	stops  int
}

func (s *fakeSink) SetStream(stream *mediabridge.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = stream
	return nil
}

func (s *fakeSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays++
	return nil
}

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSink) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays
}

// fakeHandle хендл сигнальной сессии с ручным управлением событиями
type fakeHandle struct {
	id     string
	kind   SessionKind
	remote string

	mu       sync.Mutex
	listener func(HandleState)

	acceptErr    error
	rejectErr    error
	terminateErr error
	mediaErr     error
	transport    mediabridge.Transport

	accepts    int
	rejects    int
	terminates int
}

func newFakeHandle(id string, kind SessionKind, remote string) *fakeHandle {
	return &fakeHandle{
		id:     id,
		kind:   kind,
		remote: remote,
		transport: &fakeTransport{
			receivers: []mediabridge.Receiver{&fakeReceiver{track: newFakeTrack()}},
		},
	}
}

func (h *fakeHandle) ID() string          { return h.id }
func (h *fakeHandle) Kind() SessionKind   { return h.kind }
func (h *fakeHandle) State() HandleState  { return HandleInitial }
func (h *fakeHandle) RemoteParty() string { return h.remote }

func (h *fakeHandle) OnStateChange(fn func(HandleState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listener = fn
}

// emit доставляет событие слушателю из горутины теста
func (h *fakeHandle) emit(st HandleState) {
	h.mu.Lock()
	fn := h.listener
	h.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (h *fakeHandle) Accept(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepts++
	return h.acceptErr
}

func (h *fakeHandle) Reject(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejects++
	return h.rejectErr
}

func (h *fakeHandle) Terminate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminates++
	return h.terminateErr
}

func (h *fakeHandle) MediaTransport() (mediabridge.Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.mediaErr != nil {
		return nil, h.mediaErr
	}
	return h.transport, nil
}

func (h *fakeHandle) rejectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rejects
}

func (h *fakeHandle) terminateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminates
}

// fakeSignaling клиент сигнального стека с управляемыми исходами
type fakeSignaling struct {
	mu sync.Mutex

	startErr  error
	stopErr   error
	inviteErr error

	starts  int
	stops   int
	invites []sip.Uri

	incoming func(ICallHandle)
	handle   *fakeHandle
}

func (f *fakeSignaling) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeSignaling) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeSignaling) OnIncomingSession(fn func(ICallHandle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.incoming = fn
}

func (f *fakeSignaling) Invite(ctx context.Context, target sip.Uri) (ICallHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, target)
	if f.inviteErr != nil {
		return nil, f.inviteErr
	}
	if f.handle == nil {
		f.handle = newFakeHandle("out-1", SessionOutgoing, target.User)
	}
	return f.handle, nil
}

func (f *fakeSignaling) IdentityURI(user string) sip.Uri {
	return sip.Uri{Scheme: "sip", User: user, Host: "example.com"}
}

func (f *fakeSignaling) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func factoryOf(client *fakeSignaling, err error) SignalingFactory {
	return func(ep Endpoint) (ISignaling, error) {
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func validConfig() Config {
	return Config{
		Registrar: "sip:example.com",
		Username:  "alice",
		Password:  "secret",
	}
}
