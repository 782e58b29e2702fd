//go:build linux

package mediabridge

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptVoice применяет Linux оптимизации сокета для голосового трафика.
// SO_REUSEPORT позволяет нескольким сокетам делить порт с балансировкой в ядре,
// SO_PRIORITY поднимает приоритет интерактивного аудио.
func setSockOptVoice(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		return err
	}
	// приоритет 6 соответствует интерактивному аудио
	// в контейнерах опция может быть недоступна, это не фатально
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)
	return nil
}
