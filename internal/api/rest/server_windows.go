//go:build windows

package rest

import (
	"syscall"
)

// SO_REUSEPORT is not available on Windows
func reusePort(network, address string, c syscall.RawConn) error {
	return nil
}
