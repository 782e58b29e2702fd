package mediabridge

import (
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/dtls/v2/pkg/crypto/selfsign"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTLSTransport_Loopback(t *testing.T) {
	cert, err := selfsign.GenerateSelfSigned()
	require.NoError(t, err)

	listener, err := dtls.Listen("udp",
		&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0},
		&dtls.Config{Certificates: []tls.Certificate{cert}},
	)
	require.NoError(t, err)
	defer listener.Close()

	payload := []byte{0x11, 0x22, 0x33, 0x44}
	serverErr := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			serverErr <- err
			return
		}
		defer conn.Close()

		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    PayloadTypePCMU,
				SequenceNumber: 1,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			serverErr <- err
			return
		}
		_, err = conn.Write(raw)
		serverErr <- err
	}()

	tr, err := NewDTLSTransport(DTLSTransportConfig{
		TransportConfig:    TransportConfig{PayloadType: PayloadTypePCMU},
		RemoteAddr:         listener.Addr().String(),
		InsecureSkipVerify: true,
		HandshakeTimeout:   5 * time.Second,
	})
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, <-serverErr)
	require.NotNil(t, tr.LocalAddr())

	receivers := tr.Receivers()
	require.Len(t, receivers, 1)
	assert.Equal(t, uint8(PayloadTypePCMU), receivers[0].Track().PayloadType())

	pkt, err := receivers[0].Track().ReadRTP()
	require.NoError(t, err)
	assert.Equal(t, uint8(PayloadTypePCMU), pkt.PayloadType)
	assert.Equal(t, payload, pkt.Payload)
}
