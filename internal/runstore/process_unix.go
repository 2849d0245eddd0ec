//go:build unix

package runstore

import (
	"errors"
	"syscall"
)

// processAlive reports whether pid exists. EPERM means it exists under another user.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
