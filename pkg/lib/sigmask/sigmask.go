// Package sigmask routes every signal delivered to init into a single channel
// so the supervision loop can retrieve them one at a time.
//
// Go does not let a program block signals process-wide with sigprocmask; the
// runtime owns the thread masks. The equivalent is to install a handler for
// every catchable signal with signal.Notify: nothing reaches a default
// asynchronous disposition any more, and pending signals queue in the channel
// until the loop receives them. Because the signals are caught rather than
// ignored, the kernel resets them to their defaults when a child execs.
package sigmask

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/SanjoDeundiak/sinit/pkg/lib/logging"
)

var logger = logging.For("sigmask")

// DefaultBufferSize is the capacity of the channel signals queue in. A full
// buffer drops signals, SIGCHLD included, so it must absorb bursts between
// two receives.
const DefaultBufferSize = 64

// ErrAlreadyBlocked is returned when BlockAll is called a second time.
var ErrAlreadyBlocked = errors.New("signals are already blocked")

// Set is an ordered set of signal numbers.
type Set []unix.Signal

// Full returns every signal that can be caught on this platform, in numeric
// order. SIGKILL and SIGSTOP cannot be caught and are left out.
func Full() Set {
	set := make(Set, 0, numSig-1)
	for i := 1; i < numSig; i++ {
		sig := unix.Signal(i)
		if sig == unix.SIGKILL || sig == unix.SIGSTOP {
			continue
		}
		set = append(set, sig)
	}
	return set
}

// Contains reports whether sig is a member of the set.
func (s Set) Contains(sig os.Signal) bool {
	for _, member := range s {
		if member == sig {
			return true
		}
	}
	return false
}

// Signals converts the set for use with os/signal.
func (s Set) Signals() []os.Signal {
	out := make([]os.Signal, len(s))
	for i, sig := range s {
		out[i] = sig
	}
	return out
}

// Mask is the installed routing: the signals that no longer reach a default
// handler and the channel they are retrieved from.
type Mask struct {
	Set Set
	C   <-chan os.Signal
}

// Error reports a failure to establish the mask.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("signal mask %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Notifier is the os/signal surface the controller depends on.
type Notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

type osNotifier struct{}

func (osNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) }

func (osNotifier) Stop(c chan<- os.Signal) { signal.Stop(c) }

// VerifyFunc checks that every signal in required is really being caught
// once the routing is installed.
type VerifyFunc func(required Set) error

// Controller establishes the mask exactly once.
type Controller struct {
	mu         sync.Mutex
	notifier   Notifier
	verify     VerifyFunc
	required   Set
	bufferSize int
	mask       *Mask
}

// NewController returns a controller backed by os/signal. The signals in
// required are the ones the caller acts upon; their routing is verified
// against the kernel's view after installation.
func NewController(required Set) *Controller {
	return NewControllerWith(osNotifier{}, verifyCaught, required)
}

// NewControllerWith returns a controller using the given primitives.
func NewControllerWith(n Notifier, verify VerifyFunc, required Set) *Controller {
	return &Controller{
		notifier:   n,
		verify:     verify,
		required:   append(Set(nil), required...),
		bufferSize: DefaultBufferSize,
	}
}

// BlockAll routes the full signal set into a fresh channel and returns the
// resulting mask. It must run before the first child is created.
func (c *Controller) BlockAll() (*Mask, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mask != nil {
		return nil, &Error{Op: "setup", Err: ErrAlreadyBlocked}
	}

	set := Full()
	for _, sig := range c.required {
		if !set.Contains(sig) {
			return nil, &Error{Op: "setup", Err: fmt.Errorf("signal %d (%v) cannot be caught", int(sig), sig)}
		}
	}

	ch := make(chan os.Signal, c.bufferSize)
	c.notifier.Notify(ch, set.Signals()...)
	logger.Debugf("routing %d signals to the supervision loop", len(set))

	if c.verify != nil {
		if err := c.verify(c.required); err != nil {
			// Nobody will read ch; a retry installs a fresh one.
			c.notifier.Stop(ch)
			return nil, &Error{Op: "verify", Err: err}
		}
	}

	c.mask = &Mask{Set: set, C: ch}
	return c.mask, nil
}
