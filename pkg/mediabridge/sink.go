package mediabridge

import (
	"io"
	"sync"
)

// WriterSink это playback sink, пишущий PCM кадры в io.Writer.
// Подходит для вывода в файл, пайп к аудио плееру или тестовый буфер.
type WriterSink struct {
	mu      sync.Mutex
	w       io.Writer
	stream  *Stream
	playing bool
	done    chan struct{}
}

// NewWriterSink создает sink поверх произвольного writer
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// SetStream назначает источник, nil отсоединяет текущий
func (s *WriterSink) SetStream(stream *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.stream = stream
	return nil
}

// Play запускает копирование кадров потока в writer
func (s *WriterSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.playing {
		return nil
	}
	s.playing = true
	s.done = make(chan struct{})
	go s.copyLoop(s.stream, s.done)
	return nil
}

// Stop останавливает воспроизведение. Безопасен без активного потока.
func (s *WriterSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *WriterSink) stopLocked() {
	if s.playing {
		close(s.done)
		s.playing = false
	}
}

func (s *WriterSink) copyLoop(stream *Stream, done chan struct{}) {
	for {
		select {
		case frame, ok := <-stream.Frames():
			if !ok {
				return
			}
			s.mu.Lock()
			w := s.w
			s.mu.Unlock()
			if _, err := w.Write(frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
