package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of registry event.
type EventType string

const (
	EventRegister   EventType = "register"
	EventDeregister EventType = "deregister"
	EventTrigger    EventType = "trigger"
	EventHeal       EventType = "heal"
	EventSweep      EventType = "sweep"
	EventRun        EventType = "run"
)

// Event is an observational record of something that happened to a slot.
// Fields that do not apply to a type are left zero.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	Slot       string    `json:"slot,omitempty"`
	Command    string    `json:"command,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Count      int64     `json:"count,omitempty"`
}

// NewEvent stamps a fresh event of type t.
func NewEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event. It is used when no history DSN is configured.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
