//go:build darwin

package mediabridge

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSockOptVoice применяет macOS оптимизации сокета для голосового трафика
func setSockOptVoice(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
