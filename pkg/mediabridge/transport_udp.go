package mediabridge

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// TransportConfig общие параметры медиа транспорта
type TransportConfig struct {
	// LocalAddr адрес для приема RTP, ":0" выбирает свободный порт
	LocalAddr string
	// PayloadType согласованный payload type принимаемого аудио
	PayloadType uint8
	// BufferSize размер буфера чтения, по умолчанию 1500
	BufferSize int
}

func (c *TransportConfig) applyDefaults() {
	if c.LocalAddr == "" {
		c.LocalAddr = ":0"
	}
	if c.BufferSize == 0 {
		c.BufferSize = 1500
	}
}

// UDPTransport принимает RTP поверх UDP.
// Это транспорт по умолчанию для согласованной медиа сессии.
type UDPTransport struct {
	conn  *net.UDPConn
	track *udpTrack

	remoteMu sync.RWMutex
	remote   *net.UDPAddr

	closeOnce sync.Once
}

// NewUDPTransport открывает UDP сокет с голосовыми опциями и создает
// единственный приемник аудио линии.
func NewUDPTransport(cfg TransportConfig) (*UDPTransport, error) {
	cfg.applyDefaults()

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var soErr error
			err := c.Control(func(fd uintptr) {
				soErr = setSockOptVoice(int(fd))
			})
			if err != nil {
				return err
			}
			return soErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.LocalAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen UDP")
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected packet conn type %T", pc)
	}

	t := &UDPTransport{conn: conn}
	t.track = &udpTrack{
		transport:   t,
		payloadType: cfg.PayloadType,
		bufSize:     cfg.BufferSize,
	}
	return t, nil
}

// LocalAddr возвращает локальный адрес сокета
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// SetRemote задает адрес удаленной стороны из SDP ответа.
// Пакеты с других адресов отбрасываются.
func (t *UDPTransport) SetRemote(addr *net.UDPAddr) {
	t.remoteMu.Lock()
	defer t.remoteMu.Unlock()
	t.remote = addr
}

// SetPayloadType обновляет согласованный payload type после SDP ответа
func (t *UDPTransport) SetPayloadType(pt uint8) {
	t.track.setPayloadType(pt)
}

// Receivers возвращает единственный аудио приемник транспорта
func (t *UDPTransport) Receivers() []Receiver {
	return []Receiver{&udpReceiver{track: t.track}}
}

// Close закрывает сокет, все чтения треков завершаются ошибкой
func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.conn.Close()
	})
	return err
}

func (t *UDPTransport) allowedSource(addr *net.UDPAddr) bool {
	t.remoteMu.RLock()
	defer t.remoteMu.RUnlock()
	if t.remote == nil {
		return true
	}
	return t.remote.IP.Equal(addr.IP) && t.remote.Port == addr.Port
}

type udpReceiver struct {
	track *udpTrack
}

func (r *udpReceiver) Track() Track { return r.track }

// udpTrack читает RTP пакеты из сокета транспорта
type udpTrack struct {
	transport *UDPTransport
	bufSize   int

	ptMu        sync.RWMutex
	payloadType uint8
}

func (tr *udpTrack) ID() string { return "audio-0" }

func (tr *udpTrack) PayloadType() uint8 {
	tr.ptMu.RLock()
	defer tr.ptMu.RUnlock()
	return tr.payloadType
}

func (tr *udpTrack) setPayloadType(pt uint8) {
	tr.ptMu.Lock()
	defer tr.ptMu.Unlock()
	tr.payloadType = pt
}

func (tr *udpTrack) ReadRTP() (*rtp.Packet, error) {
	buf := make([]byte, tr.bufSize)
	for {
		n, addr, err := tr.transport.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !tr.transport.allowedSource(addr) {
			continue
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			// битый пакет пропускаем
			continue
		}
		return pkt, nil
	}
}

func (tr *udpTrack) Close() error {
	return tr.transport.Close()
}
