//go:build windows

package mediabridge

import (
	"golang.org/x/sys/windows"
)

// setSockOptVoice применяет Windows настройки сокета.
// SO_REUSEPORT отсутствует, используется SO_REUSEADDR.
func setSockOptVoice(fd int) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}
