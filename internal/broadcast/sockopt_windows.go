//go:build windows

package broadcast

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func setsockopt(c syscall.RawConn, opt int) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, opt, 1)
	}); err != nil {
		return err
	}
	return serr
}

func enableBroadcast(_, _ string, c syscall.RawConn) error {
	return setsockopt(c, windows.SO_BROADCAST)
}

func enableReuse(_, _ string, c syscall.RawConn) error {
	return setsockopt(c, windows.SO_REUSEADDR)
}
