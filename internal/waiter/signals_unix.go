//go:build !windows

package waiter

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/loykin/superslots/internal/prober"
)

// Handle is the signal entry point: it translates a delivered signal into a
// request on f. Unrelated signals only resume the loop, which then finds no
// flag set and goes back to idle.
func (f *Flags) Handle(sig os.Signal) {
	switch sig {
	case prober.WakeSignal:
		f.RequestWake()
	case prober.NudgeSignal:
		f.RequestNudge()
	case unix.SIGINT, unix.SIGTERM:
		f.RequestStop()
	default:
		f.Poke()
	}
}

// ListenSignals forwards SIGINT, SIGTERM, SIGUSR1 and SIGUSR2 to f.Handle
// until the returned stop function is called.
func ListenSignals(f *Flags) (stop func()) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, prober.WakeSignal, prober.NudgeSignal)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				f.Handle(sig)
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
