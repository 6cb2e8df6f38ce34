// Package dispatch broadcasts a wake request to every live waiter of a slot.
//
// Dispatch is a two-step pipeline: candidates are read from the registry
// first, then each one is probed in application code. The registry never
// delivers signals itself.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/superslots/internal/history"
	"github.com/loykin/superslots/internal/metrics"
	"github.com/loykin/superslots/internal/prober"
	"github.com/loykin/superslots/internal/registry"
)

// Result is the outcome for a single pid. Err is set when the probe could not
// decide between alive and dead; the entry is left untouched in that case.
type Result struct {
	PID     int            `json:"pid"`
	Outcome prober.Outcome `json:"outcome,omitempty"`
	Err     error          `json:"-"`
}

// Healed reports whether the entry for this pid was removed by the trigger.
func (r Result) Healed() bool { return r.Err == nil && r.Outcome == prober.Dead }

// Dispatcher runs triggers against a registry.
type Dispatcher struct {
	Store      registry.Store
	Prober     prober.Prober
	StaleAfter time.Duration
	History    history.Sink
	Log        *slog.Logger
}

// New returns a Dispatcher using the signal prober and the default staleness threshold.
func New(store registry.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		Store:      store,
		Prober:     prober.SignalProber{},
		StaleAfter: registry.DefaultStaleAfter,
		History:    history.Nop{},
		Log:        slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

type Option func(*Dispatcher)

func WithProber(p prober.Prober) Option { return func(d *Dispatcher) { d.Prober = p } }

func WithStaleAfter(age time.Duration) Option {
	return func(d *Dispatcher) {
		if age > 0 {
			d.StaleAfter = age
		}
	}
}

func WithHistory(s history.Sink) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.History = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.Log = l
		}
	}
}

// Trigger wakes every non-stale waiter registered on slot. Dead waiters are
// removed from the registry as they are found. An empty result means nobody
// was listening and is not an error. Store failures abort the call.
func (d *Dispatcher) Trigger(ctx context.Context, slot string) ([]Result, error) {
	if err := registry.ValidateSlot(slot); err != nil {
		return nil, err
	}
	pids, err := d.Store.ListLiveCandidates(ctx, slot, d.StaleAfter)
	if err != nil {
		return nil, err
	}
	metrics.IncTrigger(slot)
	log := d.Log.With("slot", slot)
	if len(pids) == 0 {
		log.Info("no one was listening")
		d.emit(ctx, history.EventTrigger, 0, slot, "none")
		return []Result{}, nil
	}

	results := make([]Result, 0, len(pids))
	for _, pid := range pids {
		out, perr := d.Prober.Probe(pid)
		res := Result{PID: pid, Outcome: out, Err: perr}
		switch {
		case perr != nil:
			log.Warn("probe failed", "pid", pid, "error", perr)
			metrics.IncProbe(slot, "error")
			d.emit(ctx, history.EventTrigger, pid, slot, "error")
		case out == prober.Dead:
			if err := d.Store.Delete(ctx, pid, slot); err != nil {
				return results, err
			}
			log.Info("removed dead waiter", "pid", pid)
			metrics.IncProbe(slot, out.String())
			metrics.IncHealed(slot)
			d.emit(ctx, history.EventHeal, pid, slot, out.String())
		default:
			log.Debug("woke waiter", "pid", pid)
			metrics.IncProbe(slot, out.String())
			d.emit(ctx, history.EventTrigger, pid, slot, out.String())
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) emit(ctx context.Context, t history.EventType, pid int, slot, outcome string) {
	e := history.NewEvent(t)
	e.PID, e.Slot, e.Outcome = pid, slot, outcome
	if err := d.History.Send(ctx, e); err != nil {
		d.Log.Warn("history send failed", "event", t, "error", err)
	}
}
