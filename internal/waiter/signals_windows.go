//go:build windows

package waiter

import (
	"os"
	"os/signal"
)

// Handle maps an interrupt to a stop request. Windows has no wake signal.
func (f *Flags) Handle(sig os.Signal) {
	if sig == os.Interrupt {
		f.RequestStop()
		return
	}
	f.Poke()
}

// ListenSignals forwards interrupts to f.Handle until stop is called.
func ListenSignals(f *Flags) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
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
