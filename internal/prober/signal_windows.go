//go:build windows

package prober

// SignalProber is unavailable on Windows, which has no SIGUSR1/SIGUSR2.
type SignalProber struct{}

func (SignalProber) Probe(pid int) (Outcome, error) { return 0, ErrUnsupported }
func (SignalProber) Nudge(pid int) (Outcome, error) { return 0, ErrUnsupported }
