//go:build unix

package broadcast

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setsockopt(c syscall.RawConn, opt int) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1)
	}); err != nil {
		return err
	}
	return serr
}

func enableBroadcast(_, _ string, c syscall.RawConn) error {
	return setsockopt(c, unix.SO_BROADCAST)
}

func enableReuse(_, _ string, c syscall.RawConn) error {
	return setsockopt(c, unix.SO_REUSEADDR)
}
