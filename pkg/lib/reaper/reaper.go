// Package reaper collects terminated children so they do not linger as
// zombies in the process table.
package reaper

import (
	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
	"golang.org/x/sys/unix"
)

var logger = logging.For("reaper")

// WaitFunc has the signature of unix.Wait4.
type WaitFunc func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)

// Reaper drains exited children without ever blocking.
type Reaper struct {
	wait WaitFunc
}

// New returns a Reaper backed by wait4(2).
func New() *Reaper {
	return NewWithWait(unix.Wait4)
}

// NewWithWait returns a Reaper using the given wait primitive.
func NewWithWait(wait WaitFunc) *Reaper {
	return &Reaper{wait: wait}
}

// ReapAll collects every child that has already exited and returns how many
// were reaped. Several children may exit before a single SIGCHLD is handled,
// so it keeps polling until none is left. Exit statuses are discarded.
func (r *Reaper) ReapAll() int {
	reaped := 0
	for {
		var status unix.WaitStatus
		pid, err := r.wait(-1, &status, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			// No children at all.
			return reaped
		case err != nil:
			logger.Warnf("wait4 failed: %v", err)
			return reaped
		case pid > 0:
			logger.WithField("pid", pid).Debug("reaped")
			reaped++
		default:
			// Children exist but none has exited yet.
			return reaped
		}
	}
}
