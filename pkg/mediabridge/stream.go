package mediabridge

import (
	"log/slog"
	"sync"
)

// frameQueueSize глубина очереди PCM кадров составного потока.
// При переполнении старые кадры отбрасываются, воспроизведение не блокирует прием.
const frameQueueSize = 64

// Stream это составной поток декодированного аудио из нескольких треков.
// Создается мостом на каждое установление сессии и живет до ее завершения.
type Stream struct {
	tracks []Track

	frames chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
	log       *slog.Logger
}

func newStream(tracks []Track, log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	return &Stream{
		tracks: tracks,
		frames: make(chan []byte, frameQueueSize),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Tracks возвращает треки, из которых собран поток
func (s *Stream) Tracks() []Track {
	return s.tracks
}

// Frames возвращает канал декодированных PCM кадров (16 бит LE).
// Канал закрывается когда все треки остановлены.
func (s *Stream) Frames() <-chan []byte {
	return s.frames
}

// start запускает по одной горутине накачки на каждый трек
func (s *Stream) start() {
	for _, tr := range s.tracks {
		s.wg.Add(1)
		go s.pump(tr)
	}
	go func() {
		s.wg.Wait()
		close(s.frames)
	}()
}

// pump читает RTP пакеты трека, декодирует и отдает PCM кадры в очередь
func (s *Stream) pump(tr Track) {
	defer s.wg.Done()

	for {
		pkt, err := tr.ReadRTP()
		if err != nil {
			select {
			case <-s.done:
				// штатная остановка
			default:
				s.log.Debug("stream pump stopped",
					slog.String("track", tr.ID()),
					slog.String("error", err.Error()))
			}
			return
		}

		pcm, err := decodePayload(pkt.PayloadType, pkt.Payload)
		if err != nil {
			// кадр неизвестного кодека пропускаем
			continue
		}

		select {
		case s.frames <- pcm:
		case <-s.done:
			return
		default:
			// очередь полна: выталкиваем самый старый кадр
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- pcm:
			case <-s.done:
				return
			}
		}
	}
}

// Close останавливает все треки и горутины накачки.
// Повторный вызов безопасен.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		for _, tr := range s.tracks {
			if err := tr.Close(); err != nil {
				s.log.Debug("track close",
					slog.String("track", tr.ID()),
					slog.String("error", err.Error()))
			}
		}
	})
}
