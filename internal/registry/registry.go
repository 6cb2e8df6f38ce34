package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultStaleAfter is the age after which an entry is treated as stale.
const DefaultStaleAfter = time.Hour

var (
	ErrInvalidPID        = errors.New("pid must be greater than 1")
	ErrEmptySlot         = errors.New("slot must not be empty")
	ErrResetNotConfirmed = errors.New("reset requires explicit confirmation")
	// ErrStoreUnavailable wraps every failure of the underlying database.
	ErrStoreUnavailable = errors.New("registry store unavailable")
)

// Entry is a single waiter registration. The pair (PID, Slot) is unique.
type Entry struct {
	PID     int       `json:"pid"`
	Slot    string    `json:"slot"`
	Command string    `json:"command"`
	Created time.Time `json:"created"`
}

// Age reports how old the entry is at now.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.Created) }

// Store persists waiter entries. Every method is a single atomic statement;
// callers must not expect transactions spanning several calls.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, pid int, slot, command string) error
	Delete(ctx context.Context, pid int, slot string) error
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
	ListAll(ctx context.Context) ([]Entry, error)
	ListLiveCandidates(ctx context.Context, slot string, age time.Duration) ([]int, error)
	DropAll(ctx context.Context) error
	Close() error
}

// Validate checks the key of a registration before it reaches a store.
func Validate(pid int, slot string) error {
	if pid <= 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidPID, pid)
	}
	return ValidateSlot(slot)
}

// ValidateSlot rejects blank slot names.
func ValidateSlot(slot string) error {
	if strings.TrimSpace(slot) == "" {
		return ErrEmptySlot
	}
	return nil
}

// Reset drops every registration. It refuses unless confirmed is true.
func Reset(ctx context.Context, s Store, confirmed bool) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}
	return s.DropAll(ctx)
}

// Unavailable wraps a database error so it matches ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Option configures a store backend.
type Option func(*Options)

// Options are shared by all backends.
type Options struct {
	Now         func() time.Time
	BusyTimeout time.Duration
}

// WithClock overrides the clock used to stamp and age entries.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithBusyTimeout sets how long a backend waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *Options) { o.BusyTimeout = d }
}

// ApplyOptions resolves opts over the defaults.
func ApplyOptions(opts ...Option) Options {
	o := Options{Now: time.Now, BusyTimeout: 5 * time.Second}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
