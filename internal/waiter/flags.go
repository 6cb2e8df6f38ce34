package waiter

import "sync/atomic"

// Flags carries wake and stop requests from the signal entry point to the
// waiter loop. There is one writer (Handle, or the Request methods) and one
// reader (the loop). Every request sets its flag before posting to the notify
// channel, so the loop always observes the flag after it resumes.
type Flags struct {
	wake   atomic.Bool
	nudge  atomic.Bool
	stop   atomic.Bool
	notify chan struct{}
}

func NewFlags() *Flags {
	return &Flags{notify: make(chan struct{}, 1)}
}

// RequestWake asks the loop to run its command.
func (f *Flags) RequestWake() {
	f.wake.Store(true)
	f.poke()
}

// RequestNudge records the lower-priority wake request. The loop does not act on it.
func (f *Flags) RequestNudge() {
	f.nudge.Store(true)
	f.poke()
}

// RequestStop asks the loop to deregister and exit.
func (f *Flags) RequestStop() {
	f.stop.Store(true)
	f.poke()
}

// Poke resumes the loop without setting any flag.
func (f *Flags) Poke() { f.poke() }

func (f *Flags) poke() {
	select {
	case f.notify <- struct{}{}:
	default:
		// a resume is already pending
	}
}

func (f *Flags) Notify() <-chan struct{} { return f.notify }
func (f *Flags) Woken() bool             { return f.wake.Load() }
func (f *Flags) ClearWake()              { f.wake.Store(false) }
func (f *Flags) Stopped() bool           { return f.stop.Load() }
func (f *Flags) TakeNudge() bool         { return f.nudge.Swap(false) }
