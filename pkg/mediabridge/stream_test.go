package mediabridge

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrack трек с управляемой очередью пакетов
type fakeTrack struct {
	id        string
	pt        uint8
	packets   chan *rtp.Packet
	closeOnce sync.Once
}

func newFakeTrack(id string, pt uint8) *fakeTrack {
	return &fakeTrack{id: id, pt: pt, packets: make(chan *rtp.Packet, 128)}
}

func (t *fakeTrack) ID() string         { return t.id }
func (t *fakeTrack) PayloadType() uint8 { return t.pt }

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

func (t *fakeTrack) push(pt uint8, payload []byte) {
	t.packets <- &rtp.Packet{
		Header:  rtp.Header{PayloadType: pt},
		Payload: payload,
	}
}

func TestStream_DecodesFrames(t *testing.T) {
	track := newFakeTrack("audio-0", PayloadTypePCMU)
	stream := newStream([]Track{track}, nil)
	stream.start()
	defer stream.Close()

	payload := []byte{0x11, 0x22, 0x33, 0x44}
	track.push(PayloadTypePCMU, payload)

	select {
	case frame := <-stream.Frames():
		// G.711 кадр разворачивается в 2 байта PCM на отсчет
		assert.Len(t, frame, len(payload)*2)
	case <-time.After(time.Second):
		t.Fatal("кадр не получен")
	}
}

func TestStream_SkipsUnknownPayload(t *testing.T) {
	track := newFakeTrack("audio-0", PayloadTypePCMU)
	stream := newStream([]Track{track}, nil)
	stream.start()
	defer stream.Close()

	track.push(96, []byte{0x01, 0x02})
	track.push(PayloadTypePCMU, []byte{0x05, 0x06})

	select {
	case frame := <-stream.Frames():
		// кадр неизвестного кодека пропущен, пришел только G.711
		assert.Len(t, frame, 4)
	case <-time.After(time.Second):
		t.Fatal("кадр не получен")
	}
}

func TestStream_FramesChannelClosesAfterTracksEnd(t *testing.T) {
	track := newFakeTrack("audio-0", PayloadTypePCMU)
	stream := newStream([]Track{track}, nil)
	stream.start()

	require.NoError(t, track.Close())

	select {
	case _, ok := <-stream.Frames():
		assert.False(t, ok, "канал кадров должен закрыться")
	case <-time.After(time.Second):
		t.Fatal("канал кадров не закрылся")
	}
}

func TestStream_DropsOldestWhenQueueFull(t *testing.T) {
	track := newFakeTrack("audio-0", PayloadTypePCMU)
	stream := newStream([]Track{track}, nil)
	stream.start()
	defer stream.Close()

	// без читателя очередь заполняется и вытесняет старые кадры
	for i := 0; i < frameQueueSize+10; i++ {
		track.push(PayloadTypePCMU, []byte{byte(i)})
	}
	require.NoError(t, track.Close())

	// дожидаемся остановки накачки, чтобы читать уже неподвижную очередь
	stream.wg.Wait()

	count := 0
	for range stream.Frames() {
		count++
	}
	assert.Equal(t, frameQueueSize, count)
}

func TestStream_CloseIdempotent(t *testing.T) {
	track := newFakeTrack("audio-0", PayloadTypePCMU)
	stream := newStream([]Track{track}, nil)
	stream.start()

	stream.Close()
	stream.Close()
}
