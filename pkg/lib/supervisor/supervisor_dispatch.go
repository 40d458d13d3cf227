package supervisor

import (
	"context"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/sinit/pkg/lib"
	"github.com/SanjoDeundiak/sinit/pkg/lib/sigmask"
)

// Action is what the loop does for a signal.
type Action int

const (
	ActionNone Action = iota
	ActionReap
	ActionShutdown
	ActionReboot
)

func (a Action) String() string {
	switch a {
	case ActionReap:
		return "reap"
	case ActionShutdown:
		return "shutdown"
	case ActionReboot:
		return "reboot"
	default:
		return "none"
	}
}

// ActionFor maps a retrieved signal to its action. The mapping has no state,
// so the same signal always leads to the same action.
func ActionFor(sig os.Signal) Action {
	switch sig {
	case unix.SIGCHLD:
		return ActionReap
	case unix.SIGUSR1:
		return ActionShutdown
	case unix.SIGINT:
		return ActionReboot
	default:
		return ActionNone
	}
}

func (s *Supervisor) loop(ctx context.Context, mask *sigmask.Mask) error {
	var tick <-chan time.Time
	if s.config.ReapInterval > 0 {
		c, stop := s.ticker(s.config.ReapInterval)
		defer stop()
		tick = c
	} else {
		logger.Debug("periodic reap disabled, relying on SIGCHLD alone")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-mask.C:
			if !ok {
				return nil
			}
			s.handle(sig, mask.Set)
		case <-tick:
			if n := s.reaper.ReapAll(); n > 0 {
				logger.Debugf("periodic reap collected %d children", n)
			}
		}
	}
}

func (s *Supervisor) handle(sig os.Signal, blocked sigmask.Set) {
	action := ActionFor(sig)
	logger.WithField("action", action).Debugf("received %v", sig)

	switch action {
	case ActionReap:
		s.reaper.ReapAll()
	case ActionShutdown:
		s.spawn(s.config.Shutdown, blocked)
	case ActionReboot:
		s.spawn(s.config.Reboot, blocked)
	}
}

// spawn starts a shutdown or reboot command. A failure is reported and the
// loop carries on, so the request can be retried with another signal.
func (s *Supervisor) spawn(command lib.Command, blocked sigmask.Set) {
	if _, err := s.spawner.Run(command, blocked); err != nil {
		logger.Error(err)
	}
}
