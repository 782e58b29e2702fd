package mediabridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/rtp"
	"github.com/pkg/errors"
)

// DTLSTransportConfig конфигурация защищенного медиа транспорта
type DTLSTransportConfig struct {
	TransportConfig

	// RemoteAddr адрес удаленной стороны, рукопожатие требует его заранее
	RemoteAddr string

	Certificates       []tls.Certificate
	RootCAs            *x509.CertPool
	ServerName         string
	InsecureSkipVerify bool

	// HandshakeTimeout таймаут DTLS рукопожатия, по умолчанию 10 секунд
	HandshakeTimeout time.Duration
}

// DTLSTransport принимает RTP поверх DTLS.
// Используется когда удаленная сторона требует шифрованный медиа канал.
type DTLSTransport struct {
	dtlsConn *dtls.Conn
	track    *dtlsTrack

	closeOnce sync.Once
}

// NewDTLSTransport устанавливает DTLS соединение в режиме клиента
// и создает единственный аудио приемник поверх него.
func NewDTLSTransport(cfg DTLSTransportConfig) (*DTLSTransport, error) {
	cfg.applyDefaults()
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	raddr, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve remote address")
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.LocalAddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve local address")
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial UDP")
	}

	dtlsCfg := &dtls.Config{
		Certificates:       cfg.Certificates,
		RootCAs:            cfg.RootCAs,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), cfg.HandshakeTimeout)
		},
	}

	dtlsConn, err := dtls.Client(conn, dtlsCfg)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "DTLS handshake failed")
	}

	t := &DTLSTransport{dtlsConn: dtlsConn}
	t.track = &dtlsTrack{
		conn:        dtlsConn,
		payloadType: cfg.PayloadType,
		bufSize:     cfg.BufferSize,
	}
	return t, nil
}

// LocalAddr возвращает локальный адрес нижележащего сокета
func (t *DTLSTransport) LocalAddr() *net.UDPAddr {
	if addr, ok := t.dtlsConn.LocalAddr().(*net.UDPAddr); ok {
		return addr
	}
	return nil
}

// Receivers возвращает единственный аудио приемник транспорта
func (t *DTLSTransport) Receivers() []Receiver {
	return []Receiver{&dtlsReceiver{track: t.track}}
}

// Close закрывает DTLS соединение
func (t *DTLSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.dtlsConn.Close()
	})
	return err
}

type dtlsReceiver struct {
	track *dtlsTrack
}

func (r *dtlsReceiver) Track() Track { return r.track }

type dtlsTrack struct {
	conn        *dtls.Conn
	payloadType uint8
	bufSize     int
}

func (tr *dtlsTrack) ID() string         { return "audio-0" }
func (tr *dtlsTrack) PayloadType() uint8 { return tr.payloadType }

func (tr *dtlsTrack) ReadRTP() (*rtp.Packet, error) {
	buf := make([]byte, tr.bufSize)
	for {
		n, err := tr.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		return pkt, nil
	}
}

func (tr *dtlsTrack) Close() error {
	return tr.conn.Close()
}
