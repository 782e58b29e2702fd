package mediabridge

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Bridge создает и освобождает привязку медиа транспорта к устройству
// воспроизведения. Одновременно активна максимум одна привязка,
// в паре один к одному с текущей установленной сессией.
type Bridge struct {
	mu      sync.Mutex
	current *Stream
	log     *slog.Logger
}

// BridgeOption настраивает Bridge при создании
type BridgeOption func(*Bridge)

// WithLogger задает логгер моста
func WithLogger(log *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.log = log }
}

// NewBridge создает мост без активной привязки
func NewBridge(opts ...BridgeOption) *Bridge {
	b := &Bridge{}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

// Attach извлекает медиа транспорт сессии и назначает его треки в sink.
//
// Сессия без единого трека это не ошибка: некоторые сессии только сигнальные,
// привязка в этом случае не создается. Недоступность транспорта
// (хендл уже разобран) возвращается как ошибка, вызывающая сторона
// решает, фатальна ли она (для звонка - нет).
func (b *Bridge) Attach(provider TransportProvider, sink PlaybackSink) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	transport, err := provider.MediaTransport()
	if err != nil {
		return errors.Wrap(err, "media transport unavailable")
	}

	var tracks []Track
	for _, rcv := range transport.Receivers() {
		if tr := rcv.Track(); tr != nil {
			tracks = append(tracks, tr)
		}
	}

	if len(tracks) == 0 {
		b.log.Debug("media bridge: session has no inbound tracks")
		return nil
	}

	// инвариант одной привязки: старый поток уходит перед новым
	if b.current != nil {
		b.releaseLocked(sink)
	}

	stream := newStream(tracks, b.log)
	stream.start()

	if err := sink.SetStream(stream); err != nil {
		stream.Close()
		return errors.Wrap(err, "failed to set sink stream")
	}
	if err := sink.Play(); err != nil {
		stream.Close()
		_ = sink.SetStream(nil)
		return errors.Wrap(err, "failed to start playback")
	}

	b.current = stream
	b.log.Debug("media bridge attached",
		slog.Int("tracks", len(tracks)))
	return nil
}

// Release останавливает треки текущей привязки, отсоединяет поток
// и очищает выход sink. Безопасен когда привязки нет.
func (b *Bridge) Release(sink PlaybackSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked(sink)
}

func (b *Bridge) releaseLocked(sink PlaybackSink) {
	if b.current != nil {
		b.current.Close()
		b.current = nil
	}
	if sink != nil {
		if err := sink.Stop(); err != nil {
			b.log.Debug("sink stop", slog.String("error", err.Error()))
		}
		if err := sink.SetStream(nil); err != nil {
			b.log.Debug("sink detach", slog.String("error", err.Error()))
		}
	}
	b.log.Debug("media bridge released")
}

// Attached сообщает, есть ли активная привязка
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current != nil
}
