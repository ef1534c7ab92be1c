//go:build unix

package scheduler

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

func raise(sig os.Signal) {
	s, ok := sig.(syscall.Signal)
	if !ok {
		os.Exit(1)
	}
	if err := unix.Kill(unix.Getpid(), s); err != nil {
		os.Exit(128 + int(s))
	}
}
