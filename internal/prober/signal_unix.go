//go:build !windows

package prober

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Wake and Nudge are the signals delivered by SignalProber.
const (
	WakeSignal  = unix.SIGUSR1
	NudgeSignal = unix.SIGUSR2
)

// SignalProber delivers SIGUSR1/SIGUSR2 with kill(2).
type SignalProber struct{}

func (SignalProber) Probe(pid int) (Outcome, error) { return send(pid, WakeSignal) }
func (SignalProber) Nudge(pid int) (Outcome, error) { return send(pid, NudgeSignal) }

func send(pid int, sig unix.Signal) (Outcome, error) {
	// kill(2) treats 0 and negative pids as process groups
	if pid <= 1 {
		return 0, fmt.Errorf("refusing to signal pid %d", pid)
	}
	err := unix.Kill(pid, sig)
	switch {
	case err == nil:
		return Alive, nil
	case errors.Is(err, unix.ESRCH):
		return Dead, nil
	default:
		return 0, fmt.Errorf("signal %s to pid %d: %w", unix.SignalName(sig), pid, err)
	}
}
