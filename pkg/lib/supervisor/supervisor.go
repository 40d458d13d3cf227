// Package supervisor implements the PID 1 supervision loop: a one-time
// bootstrap followed by an endless, single-threaded dispatch of the signals
// init receives.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/sinit/pkg/lib"
	"github.com/SanjoDeundiak/sinit/pkg/lib/config"
	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
	"github.com/SanjoDeundiak/sinit/pkg/lib/runner"
	"github.com/SanjoDeundiak/sinit/pkg/lib/sigmask"
)

var logger = logging.For("supervisor")

// ErrNotPID1 is the cause of the fatal error returned when init is not the
// first process. Init is strict about this: it refuses to run elsewhere.
var ErrNotPID1 = errors.New("attempted to run init as a pid other than 1")

// Consumed are the signals the loop acts upon. Every other signal is
// retrieved and discarded.
var Consumed = sigmask.Set{unix.SIGCHLD, unix.SIGUSR1, unix.SIGINT}

// MaskController establishes the signal routing once.
type MaskController interface {
	BlockAll() (*sigmask.Mask, error)
}

// Spawner starts a command without waiting for it.
type Spawner interface {
	Run(command lib.Command, blocked sigmask.Set) (*runner.StartResult, error)
}

// ZombieReaper collects every exited child without blocking.
type ZombieReaper interface {
	ReapAll() int
}

// State of the supervisor. There is no terminal state: once running, init
// runs until the machine goes down.
type State int32

const (
	StateBootstrapping State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FatalError ends init. The caller is expected to exit with status 1.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// TickerFunc starts a periodic timer and returns its channel and stop
// function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Supervisor owns the configuration and the platform primitives.
type Supervisor struct {
	config  *config.Config
	mask    MaskController
	spawner Spawner
	reaper  ZombieReaper

	getpid func() int
	ticker TickerFunc

	state atomic.Int32
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithGetpid replaces the process id lookup used for the PID 1 check.
func WithGetpid(f func() int) Option {
	return func(s *Supervisor) { s.getpid = f }
}

// WithTicker replaces the timer behind the periodic reap.
func WithTicker(f TickerFunc) Option {
	return func(s *Supervisor) { s.ticker = f }
}

// New returns a supervisor in the bootstrapping state.
func New(cfg *config.Config, mask MaskController, spawner Spawner, reaper ZombieReaper, opts ...Option) *Supervisor {
	s := &Supervisor{
		config:  cfg,
		mask:    mask,
		spawner: spawner,
		reaper:  reaper,
		getpid:  os.Getpid,
		ticker:  newTicker,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Run bootstraps init and then dispatches signals. It only returns on a
// fatal bootstrap error, when ctx is done, or when the signal channel is
// closed.
func (s *Supervisor) Run(ctx context.Context) error {
	mask, err := s.bootstrap()
	if err != nil {
		return err
	}

	s.state.Store(int32(StateRunning))
	logger.Info("up and running.")

	return s.loop(ctx, mask)
}

func (s *Supervisor) bootstrap() (*sigmask.Mask, error) {
	if pid := s.getpid(); pid != 1 {
		return nil, &FatalError{Op: "startup", Err: fmt.Errorf("%w (pid %d)", ErrNotPID1, pid)}
	}

	// Before any child exists, so that none inherits a half-installed routing.
	mask, err := s.mask.BlockAll()
	if err != nil {
		return nil, &FatalError{Op: "startup", Err: err}
	}

	logger.Info("begin.")

	if _, err := s.spawner.Run(s.config.Startup, mask.Set); err != nil {
		if !recoverable(err) {
			return nil, &FatalError{Op: "startup", Err: err}
		}
		// The child is gone already; init keeps running to reap and to
		// honour shutdown requests.
		logger.Error(err)
	}

	return mask, nil
}

// recoverable reports whether init can keep running after a failed startup
// spawn. A program missing from PATH is what the child's execvp would have
// reported, so it is treated like a failed exec.
func recoverable(err error) bool {
	var spawnErr *runner.SpawnError
	if !errors.As(err, &spawnErr) {
		return false
	}
	return spawnErr.InChild() || spawnErr.Stage == runner.StageResolve
}
