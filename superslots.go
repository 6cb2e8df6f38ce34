// Package superslots lets processes wait on named slots and lets other
// processes wake every live waiter of a slot at once.
//
// State lives in a small registry (SQLite under ~/.superslots by default).
// Waiters register themselves and sleep until they receive SIGUSR1; a trigger
// signals every fresh registration of a slot and forgets the ones whose
// process is gone.
package superslots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/superslots/internal/config"
	"github.com/loykin/superslots/internal/dispatch"
	"github.com/loykin/superslots/internal/history"
	hfactory "github.com/loykin/superslots/internal/history/factory"
	"github.com/loykin/superslots/internal/metrics"
	"github.com/loykin/superslots/internal/prober"
	"github.com/loykin/superslots/internal/registry"
	rfactory "github.com/loykin/superslots/internal/registry/factory"
	"github.com/loykin/superslots/internal/sweep"
	"github.com/loykin/superslots/internal/waiter"
)

// Re-export core types for external consumers.

type Entry = registry.Entry

type Result = dispatch.Result

type Outcome = prober.Outcome

type Config = config.Config

type Command = waiter.Command

type WaitConfig = waiter.Config

type WaitOption = waiter.Option

type Event = history.Event

const (
	Alive = prober.Alive
	Dead  = prober.Dead
)

var (
	ErrStoreUnavailable  = registry.ErrStoreUnavailable
	ErrResetNotConfirmed = registry.ErrResetNotConfirmed
	ErrCommandNotFound   = waiter.ErrCommandNotFound
)

// ExitCommandNotFound is the exit status of a waiter whose command cannot be started.
const ExitCommandNotFound = waiter.ExitCommandNotFound

// LoadConfig reads path, or stateDir/config.toml when path is empty.
// An empty stateDir means ~/.superslots.
func LoadConfig(path, stateDir string) (Config, error) {
	if stateDir == "" {
		d, err := config.DefaultStateDir()
		if err != nil {
			return Config{}, err
		}
		stateDir = d
	}
	return config.Load(path, stateDir)
}

// Client is the entry point for every operation. It owns the registry
// connection, the history sink and the log file; Close releases them.
type Client struct {
	cfg      Config
	store    registry.Store
	history  history.Sink
	log      *slog.Logger
	logClose io.Closer
	prober   prober.Prober
	gatherer prometheus.Gatherer
}

type Option func(*Client)

// WithLogger replaces the logger built from the configuration.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithProber replaces the signal based prober, mainly for tests.
func WithProber(p prober.Prober) Option { return func(c *Client) { c.prober = p } }

// Open prepares the state directory and opens the registry and history sink.
func Open(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.StateDir != "" {
		if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	c := &Client{cfg: cfg, prober: prober.SignalProber{}}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		l, closer, err := cfg.Logger().New(os.Stderr)
		if err != nil {
			return nil, err
		}
		c.log, c.logClose = l, closer
	}

	if cfg.Metrics.TextfileDir != "" {
		reg, err := textfileRegistry()
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.gatherer = reg
	}

	store, err := rfactory.NewFromDSN(cfg.StoreDSN(), registry.WithBusyTimeout(cfg.Store.BusyTimeout))
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	c.store = store

	sink, err := hfactory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		// history is observational; run without it
		c.log.Warn("history sink disabled", "error", err)
		sink = history.Nop{}
	}
	c.history = sink
	return c, nil
}

func (c *Client) Config() Config        { return c.cfg }
func (c *Client) Logger() *slog.Logger  { return c.log }
func (c *Client) Store() registry.Store { return c.store }

// Trigger wakes every live waiter registered on slot. A slot nobody listens
// on yields an empty result and no error.
func (c *Client) Trigger(ctx context.Context, slot string) ([]Result, error) {
	if c.cfg.Sweep.OnTrigger {
		if _, err := sweep.Run(ctx, c.store, c.cfg.StaleAfter, c.history, c.log); err != nil {
			return nil, err
		}
	}
	d := dispatch.New(c.store,
		dispatch.WithProber(c.prober),
		dispatch.WithStaleAfter(c.cfg.StaleAfter),
		dispatch.WithHistory(c.history),
		dispatch.WithLogger(c.log),
	)
	res, err := d.Trigger(ctx, slot)
	c.flushMetrics("trigger")
	return res, err
}

// List returns every entry, stale ones included.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	entries, err := c.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	metrics.SetEntries(len(entries))
	return entries, nil
}

// Sweep removes entries older than olderThan, or older than the configured
// staleness threshold when olderThan is not positive.
func (c *Client) Sweep(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = c.cfg.StaleAfter
	}
	n, err := sweep.Run(ctx, c.store, olderThan, c.history, c.log)
	c.flushMetrics("sweep")
	return n, err
}

// Reset drops and recreates the registry. It refuses to run unless confirmed.
func (c *Client) Reset(ctx context.Context, confirmed bool) error {
	if err := registry.Reset(ctx, c.store, confirmed); err != nil {
		return err
	}
	c.log.Warn("registry reset")
	return nil
}

// Wait registers the current process on wc.Slot and runs wc.Command on every
// wake until SIGINT/SIGTERM, ctx cancellation, or a fatal command result.
// When log.command_dir is configured the command output is also written to
// rotated files there.
func (c *Client) Wait(ctx context.Context, wc WaitConfig, opts ...WaitOption) (int, error) {
	if wc.PID == 0 {
		wc.PID = os.Getpid()
	}
	runner := waiter.ExecRunner{}
	stdout, stderr, err := c.cfg.Logger().File.CommandWriters(fmt.Sprintf("%s-%d", wc.Slot, wc.PID))
	if err != nil {
		return 1, err
	}
	if stdout != nil {
		defer func() { _ = stdout.Close(); _ = stderr.Close() }()
		runner.Stdout = io.MultiWriter(os.Stdout, stdout)
		runner.Stderr = io.MultiWriter(os.Stderr, stderr)
	}

	opts = append([]WaitOption{
		waiter.WithRunner(runner),
		waiter.WithHistory(c.history),
		waiter.WithLogger(c.log),
	}, opts...)
	w, err := waiter.New(c.store, wc, opts...)
	if err != nil {
		return 2, err
	}
	stop := waiter.ListenSignals(w.Flags())
	defer stop()

	code, err := w.Run(ctx)
	c.flushMetrics("wait")
	return code, err
}

// The textfile registry is process wide and kept apart from the default one:
// node_exporter rejects textfiles that repeat its own go_ and process_ series.
var textfileRegistry = sync.OnceValues(func() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	return reg, metrics.Register(reg)
})

func (c *Client) flushMetrics(name string) {
	if c.gatherer == nil {
		return
	}
	if err := metrics.WriteTextfile(c.cfg.Metrics.TextfileDir, name, c.gatherer); err != nil {
		c.log.Warn("write metrics textfile failed", "error", err)
	}
}

// Close releases the registry, the history sink and the log file.
func (c *Client) Close() error {
	var errs []error
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.history != nil {
		errs = append(errs, c.history.Close())
	}
	if c.logClose != nil {
		errs = append(errs, c.logClose.Close())
	}
	return errors.Join(errs...)
}
