// Package waiter implements the loop of a process waiting on a slot.
//
// A waiter registers (pid, slot, command) in the registry, suspends until a
// wake or stop request arrives through its Flags, runs its command when woken
// and goes back to sleep. Whatever path leaves the loop, the registration is
// removed exactly once before Run returns. Only a waiter killed from outside
// leaves its entry behind; trigger-time healing and the stale sweep handle that.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/superslots/internal/history"
	"github.com/loykin/superslots/internal/metrics"
	"github.com/loykin/superslots/internal/registry"
)

// Config describes one waiter.
type Config struct {
	PID       int // defaults to os.Getpid()
	Slot      string
	Command   Command
	KeepAlive bool // keep looping after the command fails
}

type Waiter struct {
	cfg     Config
	store   registry.Store
	flags   *Flags
	runner  Runner
	history history.Sink
	log     *slog.Logger
	onState func(State)
	state   State
}

type Option func(*Waiter)

func WithRunner(r Runner) Option { return func(w *Waiter) { w.runner = r } }
func WithFlags(f *Flags) Option  { return func(w *Waiter) { w.flags = f } }

func WithHistory(s history.Sink) Option {
	return func(w *Waiter) {
		if s != nil {
			w.history = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Waiter) {
		if l != nil {
			w.log = l
		}
	}
}

// WithStateHook calls fn on every state transition, from the loop goroutine.
func WithStateHook(fn func(State)) Option { return func(w *Waiter) { w.onState = fn } }

// New validates cfg and builds a waiter. Nothing is registered until Run.
func New(store registry.Store, cfg Config, opts ...Option) (*Waiter, error) {
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if err := registry.Validate(cfg.PID, cfg.Slot); err != nil {
		return nil, err
	}
	if err := cfg.Command.Validate(); err != nil {
		return nil, err
	}
	w := &Waiter{
		cfg:     cfg,
		store:   store,
		flags:   NewFlags(),
		runner:  ExecRunner{},
		history: history.Nop{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.With("pid", cfg.PID, "slot", cfg.Slot)
	return w, nil
}

// Flags returns the request flags the signal entry point must write to.
func (w *Waiter) Flags() *Flags { return w.flags }

// State returns the current state. It is only meaningful from the loop goroutine
// or after Run has returned.
func (w *Waiter) State() State { return w.state }

// Run registers, waits and runs the command until a stop request, context
// cancellation, or a fatal command result. It returns the process exit code:
// 0 on graceful shutdown, the command's status when it failed without
// keepalive, ExitCommandNotFound when it could not be started.
func (w *Waiter) Run(ctx context.Context) (code int, err error) {
	w.setState(Registering)
	command := w.cfg.Command.String()
	if err := w.store.Upsert(ctx, w.cfg.PID, w.cfg.Slot, command); err != nil {
		w.setState(Exited)
		return 1, fmt.Errorf("register: %w", err)
	}
	metrics.IncRegistration(w.cfg.Slot)
	w.emit(ctx, history.EventRegister, func(e *history.Event) { e.Command = command })
	w.log.Info("registered", "command", command, "keepalive", w.cfg.KeepAlive)

	defer func() {
		w.setState(Exiting)
		if derr := w.deregister(context.WithoutCancel(ctx)); derr != nil {
			err = errors.Join(err, derr)
			if code == ExitOK {
				code = 1
			}
		}
		w.setState(Exited)
	}()

	for {
		w.setState(Idle)
		w.log.Info("waiting")
		if w.flags.Stopped() {
			w.log.Info("quitting")
			return ExitOK, nil
		}
		select {
		case <-ctx.Done():
			w.log.Info("quitting", "reason", ctx.Err())
			return ExitOK, nil
		case <-w.flags.Notify():
		}
		if w.flags.Stopped() {
			w.log.Info("quitting")
			return ExitOK, nil
		}

		w.setState(Woken)
		if w.flags.TakeNudge() {
			w.log.Debug("nudge received, no action configured")
		}
		if !w.flags.Woken() {
			continue
		}

		w.setState(Deciding)
		if code, err := w.runCommand(ctx); err != nil {
			return code, err
		}
		w.flags.ClearWake()
	}
}

// runCommand returns a non-nil error only when the loop must end.
func (w *Waiter) runCommand(ctx context.Context) (int, error) {
	start := time.Now()
	code, err := w.runner.Run(w.cfg.Command)
	elapsed := time.Since(start)

	result := "ok"
	defer func() {
		metrics.ObserveCommand(w.cfg.Slot, result, elapsed.Seconds())
		w.emit(ctx, history.EventRun, func(e *history.Event) {
			e.Command = w.cfg.Command.String()
			e.Outcome = result
			e.ExitCode = code
		})
	}()

	switch {
	case errors.Is(err, ErrCommandNotFound):
		result = "not_found"
		w.log.Error("command could not be started; is it correct? shell syntax needs --special", "error", err)
		return ExitCommandNotFound, err
	case err != nil:
		result = "failed"
		w.log.Error("command failed to run", "error", err)
		return code, err
	case code != ExitOK:
		result = "failed"
		if !w.cfg.KeepAlive {
			w.log.Error("command failed and no keepalive set, leaving wait loop", "status", code)
			return code, &CommandFailedError{Code: code}
		}
		w.log.Warn("command failed, keeping alive", "status", code, "elapsed", elapsed)
		return code, nil
	default:
		w.log.Info("command finished", "elapsed", elapsed)
		return code, nil
	}
}

func (w *Waiter) deregister(ctx context.Context) error {
	if err := w.store.Delete(ctx, w.cfg.PID, w.cfg.Slot); err != nil {
		w.log.Error("deregister failed", "error", err)
		return fmt.Errorf("deregister: %w", err)
	}
	metrics.IncDeregistration(w.cfg.Slot)
	w.emit(ctx, history.EventDeregister, nil)
	w.log.Info("deregistered")
	return nil
}

func (w *Waiter) setState(s State) {
	w.state = s
	if w.onState != nil {
		w.onState(s)
	}
}

func (w *Waiter) emit(ctx context.Context, t history.EventType, fill func(*history.Event)) {
	e := history.NewEvent(t)
	e.PID, e.Slot = w.cfg.PID, w.cfg.Slot
	if fill != nil {
		fill(&e)
	}
	if err := w.history.Send(context.WithoutCancel(ctx), e); err != nil {
		w.log.Warn("history send failed", "event", t, "error", err)
	}
}
