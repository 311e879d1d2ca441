//go:build !windows

package rest

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func reusePort(network, address string, c syscall.RawConn) error {
	var err error
	ctrlErr := c.Control(func(fd uintptr) {
		err = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return err
}
