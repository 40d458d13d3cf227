package runner

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrEmptyCommand is returned when there is no executable to run.
var ErrEmptyCommand = errors.New("command is required")

// Stage identifies the step of a spawn that failed.
//
// The child's errno is the only thing that crosses back from a failed
// fork-exec, so the stage of such a failure is inferred from it. execve can
// also fail with EAGAIN or ENOMEM; those are indistinguishable from a fork
// failure and are reported as StageFork.
type Stage int

const (
	// StageFork means no child process was created.
	StageFork Stage = iota
	// StageUnmask means the child could not be given default signal dispositions.
	StageUnmask
	// StageSession means the child could not become a session leader.
	StageSession
	// StageExec means the child could not replace its image.
	StageExec
	// StageResolve means a name without a slash was not found in PATH. No
	// child process was created.
	StageResolve
)

func (s Stage) String() string {
	switch s {
	case StageFork:
		return "fork"
	case StageUnmask:
		return "unmask"
	case StageSession:
		return "setsid"
	case StageExec:
		return "exec"
	case StageResolve:
		return "resolve"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// SpawnError describes a failed spawn and carries the underlying OS error.
type SpawnError struct {
	// ID is the spawn id logged by the runner.
	ID    string
	Stage Stage
	Argv  []string
	Err   error
}

func (e *SpawnError) Error() string {
	cmd := strings.Join(e.Argv, " ")
	switch e.Stage {
	case StageFork:
		return fmt.Sprintf("couldn't fork child process %s: %v", cmd, e.Err)
	case StageUnmask:
		return fmt.Sprintf("couldn't unblock signals for child process %s: %v", cmd, e.Err)
	case StageSession:
		return fmt.Sprintf("setsid failed for child process %s: %v", cmd, e.Err)
	default:
		return fmt.Sprintf("couldn't exec child process %s: %v", cmd, e.Err)
	}
}

func (e *SpawnError) Unwrap() error { return e.Err }

// InChild reports whether the failure belongs to the child's execution
// context. Such a child has already terminated with a non-zero status; no
// copy of init keeps running. Unmask failures are detected before the fork
// but count as the child's, since no child may start without its signals.
func (e *SpawnError) InChild() bool {
	return e.Stage != StageFork && e.Stage != StageResolve
}

// classifyForkExec maps an error from the fork-exec primitive to the stage it
// came from. The child reports its errno through the exec pipe, so the stage
// is recovered from the errno: fork only fails for lack of resources, and
// setsid in a fresh child only fails with EPERM.
func classifyForkExec(argv []string, err error) *SpawnError {
	stage := StageExec

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EAGAIN, unix.ENOMEM, unix.ENOSYS:
			stage = StageFork
		case unix.EPERM:
			stage = StageSession
		}
	}

	return &SpawnError{Stage: stage, Argv: argv, Err: err}
}
