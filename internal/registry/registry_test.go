package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loykin/superslots/internal/registry"
	"github.com/loykin/superslots/internal/registry/sqlite"
)

func TestResetRequiresConfirmation(t *testing.T) {
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()
	if err := db.Upsert(ctx, 42, "s", "true"); err != nil {
		t.Fatal(err)
	}

	if err := registry.Reset(ctx, db, false); !errors.Is(err, registry.ErrResetNotConfirmed) {
		t.Fatalf("expected ErrResetNotConfirmed, got %v", err)
	}
	all, _ := db.ListAll(ctx)
	if len(all) != 1 {
		t.Fatalf("unconfirmed reset must not mutate, got %+v", all)
	}

	if err := registry.Reset(ctx, db, true); err != nil {
		t.Fatalf("confirmed reset: %v", err)
	}
	all, _ = db.ListAll(ctx)
	if len(all) != 0 {
		t.Fatalf("expected empty registry, got %+v", all)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		pid  int
		slot string
		want error
	}{
		{2, "a", nil},
		{1, "a", registry.ErrInvalidPID},
		{0, "a", registry.ErrInvalidPID},
		{-5, "a", registry.ErrInvalidPID},
		{10, "", registry.ErrEmptySlot},
	}
	for _, c := range cases {
		err := registry.Validate(c.pid, c.slot)
		if c.want == nil && err != nil {
			t.Fatalf("Validate(%d,%q): unexpected %v", c.pid, c.slot, err)
		}
		if c.want != nil && !errors.Is(err, c.want) {
			t.Fatalf("Validate(%d,%q): want %v got %v", c.pid, c.slot, c.want, err)
		}
	}
}

func TestEntryAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := registry.Entry{PID: 7, Slot: "x", Created: now.Add(-90 * time.Second)}
	if e.Age(now) != 90*time.Second {
		t.Fatalf("age: %v", e.Age(now))
	}
}

func TestUnavailableWrapsNil(t *testing.T) {
	if registry.Unavailable("op", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	err := registry.Unavailable("op", errors.New("disk I/O error"))
	if !errors.Is(err, registry.ErrStoreUnavailable) {
		t.Fatalf("expected wrapped ErrStoreUnavailable, got %v", err)
	}
}
