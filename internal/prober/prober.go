// Package prober checks whether a registered waiter still exists and, when it
// does, asks it to wake up by delivering an asynchronous signal.
//
// A successful probe only confirms that the process existed well enough to
// accept the signal at call time. The process may die right after, or the pid
// may have been recycled; callers treat the result as best effort.
package prober

import "errors"

// Outcome is the result of probing a single pid.
type Outcome int

const (
	Alive Outcome = iota + 1
	Dead
)

func (o Outcome) String() string {
	switch o {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome by name in JSON and logs.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// ErrUnsupported is returned on platforms without user signals.
var ErrUnsupported = errors.New("signal delivery is not supported on this platform")

// Prober asks processes to wake up.
//
// Probe sends the primary wake request. Nudge sends the lower-priority request,
// which nothing dispatches today and waiters only record.
// Dead means the process does not exist and the caller may forget it. Any
// returned error means the pid could not be judged either way.
type Prober interface {
	Probe(pid int) (Outcome, error)
	Nudge(pid int) (Outcome, error)
}
