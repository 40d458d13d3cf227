// Package runner starts external programs on behalf of init.
package runner

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
)

var logger = logging.For("runner")

// ForkExecFunc creates a new process running argv0 with the given argument
// vector. Only the parent returns: the child either replaces its image or
// exits, and setup failures inside the child come back as the error.
type ForkExecFunc func(argv0 string, argv []string, attr *syscall.ProcAttr) (int, error)

// Runner spawns commands. It keeps no record of the processes it starts;
// their termination is collected by the reaper.
type Runner struct {
	workDir  string
	forkExec ForkExecFunc
	lookPath func(file string) (string, error)
	ignored  func(sig os.Signal) bool
	environ  func() []string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithForkExec replaces the process creation primitive.
func WithForkExec(f ForkExecFunc) Option {
	return func(r *Runner) { r.forkExec = f }
}

// WithLookPath replaces the executable search used for paths without a slash.
func WithLookPath(f func(string) (string, error)) Option {
	return func(r *Runner) { r.lookPath = f }
}

// WithIgnored replaces the check for signals the parent currently ignores.
func WithIgnored(f func(os.Signal) bool) Option {
	return func(r *Runner) { r.ignored = f }
}

// NewRunner creates a Runner whose children start in workDir. An empty
// workDir keeps the working directory of init.
func NewRunner(workDir string, opts ...Option) (*Runner, error) {
	if workDir != "" {
		fi, err := os.Stat(workDir)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", workDir)
		}
	}

	r := &Runner{
		workDir:  workDir,
		forkExec: syscall.ForkExec,
		lookPath: lookPath,
		ignored:  signal.Ignored,
		environ:  os.Environ,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}
