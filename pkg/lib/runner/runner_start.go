package runner

import (
	"fmt"
	"os"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/SanjoDeundiak/sinit/pkg/lib"
	"github.com/SanjoDeundiak/sinit/pkg/lib/sigmask"
)

type StartResult struct {
	ID      string
	Pid     int
	Command lib.Command
}

// Run starts command as a new session leader and returns as soon as the
// child exists. blocked is the set of signals init routes away from default
// delivery; the child must start with all of them back at their defaults.
func (runner *Runner) Run(command lib.Command, blocked sigmask.Set) (*StartResult, error) {
	if command.Empty() {
		return nil, ErrEmptyCommand
	}

	argv := command.Argv()
	id := lib.NewID()
	log := logger.WithFields(logrus.Fields{"id": id, "argv": command.String()})

	path, err := runner.resolve(command.Path)
	if err != nil {
		return nil, runner.failed(log, &SpawnError{ID: id, Stage: StageResolve, Argv: argv, Err: err})
	}

	if err := runner.unblockForChild(blocked); err != nil {
		return nil, runner.failed(log, &SpawnError{ID: id, Stage: StageUnmask, Argv: argv, Err: err})
	}

	attr := &syscall.ProcAttr{
		Dir:   runner.workDir,
		Env:   runner.environ(),
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd()},
		Sys:   sysProcAttr(),
	}

	log.Debug("spawning")
	pid, err := runner.forkExec(path, argv, attr)
	if err != nil {
		spawnErr := classifyForkExec(argv, err)
		spawnErr.ID = id
		return nil, runner.failed(log, spawnErr)
	}
	log.WithField("pid", pid).Debug("spawned")

	return &StartResult{ID: id, Pid: pid, Command: command}, nil
}

// failed reports the spawn id at info level, so the error line the caller
// prints can be matched with the debug output of the same spawn.
func (runner *Runner) failed(log *logrus.Entry, err *SpawnError) *SpawnError {
	log.WithField("stage", err.Stage).Infof("spawn %s failed at %s", err.ID, err.Stage)
	return err
}

// unblockForChild checks that every blocked signal will be at its default
// disposition once the child execs. Caught signals are reset by exec, but a
// signal init ignores would stay ignored in the new program.
func (runner *Runner) unblockForChild(blocked sigmask.Set) error {
	for _, sig := range blocked {
		if runner.ignored(sig) {
			return fmt.Errorf("signal %d (%v) is ignored and would be inherited", int(sig), sig)
		}
	}
	return nil
}
