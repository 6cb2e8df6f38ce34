package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/loykin/superslots"
	"github.com/loykin/superslots/internal/procinfo"
	"github.com/loykin/superslots/internal/registry"
)

type command struct {
	global *GlobalFlags
	out    io.Writer
	open   func(GlobalFlags) (*superslots.Client, error)
}

func newCommand(out io.Writer) *command {
	return &command{global: &GlobalFlags{}, out: out, open: openClient}
}

func openClient(g GlobalFlags) (*superslots.Client, error) {
	cfg, err := superslots.LoadConfig(g.ConfigPath, "")
	if err != nil {
		return nil, err
	}
	if g.Verbose {
		cfg.Log.Level = "debug"
	}
	return superslots.Open(cfg)
}

// withClient opens a client for the duration of fn.
func (c *command) withClient(fn func(*superslots.Client) error) error {
	cl, err := c.open(*c.global)
	if err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()
	return fn(cl)
}

// Reset drops the registry. The confirmation is checked before anything is opened.
func (c *command) Reset(ctx context.Context, f ResetFlags) error {
	if !f.YesReally {
		return usagef("refusing to drop the registry without --yes-really")
	}
	return c.withClient(func(cl *superslots.Client) error {
		if err := cl.Reset(ctx, true); err != nil {
			return err
		}
		_, err := fmt.Fprintln(c.out, "Dropped the whole registry")
		return err
	})
}

// listRow is one line of `list` output.
type listRow struct {
	PID     int            `json:"pid"`
	Slot    string         `json:"slot"`
	Command string         `json:"command"`
	Created time.Time      `json:"created"`
	Stale   bool           `json:"stale"`
	Process *procinfo.Info `json:"process,omitempty"`
}

func (c *command) List(ctx context.Context, f ListFlags) error {
	return c.withClient(func(cl *superslots.Client) error {
		entries, err := cl.List(ctx)
		if err != nil {
			return err
		}
		rows := buildRows(entries, time.Now(), cl.Config().StaleAfter)
		if f.Processes {
			for i := range rows {
				info, err := procinfo.Lookup(ctx, rows[i].PID)
				if err != nil {
					cl.Logger().Debug("process lookup failed", "pid", rows[i].PID, "error", err)
				}
				rows[i].Process = &info
			}
		}
		if f.JSON {
			return printJSON(c.out, rows)
		}
		return renderTable(c.out, rows, f.Processes)
	})
}

func buildRows(entries []superslots.Entry, now time.Time, staleAfter time.Duration) []listRow {
	rows := make([]listRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, listRow{
			PID:     e.PID,
			Slot:    e.Slot,
			Command: e.Command,
			Created: e.Created,
			Stale:   e.Age(now) >= staleAfter,
		})
	}
	return rows
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func renderTable(w io.Writer, rows []listRow, processes bool) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No waiters registered")
		return err
	}
	headers := []string{"PID", "SLOT", "COMMAND", "CREATED"}
	if processes {
		headers = append(headers, "PROCESS")
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		created := r.Created.Local().Format(time.DateTime)
		if r.Stale {
			created += " (stale)"
		}
		cells := []string{strconv.Itoa(r.PID), r.Slot, r.Command, created}
		if processes {
			cells = append(cells, describeProcess(r))
		}
		t.Row(cells...)
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func describeProcess(r listRow) string {
	p := r.Process
	switch {
	case p == nil:
		return "?"
	case !p.Running:
		return "gone"
	case p.Recycled(r.Created):
		return "pid reused by " + p.Name
	default:
		return p.Name
	}
}

func (c *command) Trigger(ctx context.Context, f TriggerFlags) error {
	if err := registry.ValidateSlot(f.Slot); err != nil {
		return &usageError{err: err}
	}
	return c.withClient(func(cl *superslots.Client) error {
		res, err := cl.Trigger(ctx, f.Slot)
		if err != nil {
			return err
		}
		return printResults(c.out, f.Slot, res)
	})
}

func printResults(w io.Writer, slot string, res []superslots.Result) error {
	if len(res) == 0 {
		_, err := fmt.Fprintf(w, "No one was listening on slot '%s'\n", slot)
		return err
	}
	for _, r := range res {
		var err error
		switch {
		case r.Err != nil:
			_, err = fmt.Fprintf(w, "pid %d -> error: %v\n", r.PID, r.Err)
		case r.Healed():
			_, err = fmt.Fprintf(w, "pid %d -> %s (removed)\n", r.PID, r.Outcome)
		default:
			_, err = fmt.Fprintf(w, "pid %d -> %s\n", r.PID, r.Outcome)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until the waiter stops. A non-zero status is returned as an
// exitCodeError so main exits with it.
func (c *command) Wait(ctx context.Context, f WaitFlags) error {
	if err := registry.ValidateSlot(f.Slot); err != nil {
		return &usageError{err: err}
	}
	cmd := superslots.Command{Args: f.Command, Shell: f.Special}
	if err := cmd.Validate(); err != nil {
		return &usageError{err: err}
	}
	return c.withClient(func(cl *superslots.Client) error {
		code, err := cl.Wait(ctx, superslots.WaitConfig{Slot: f.Slot, Command: cmd, KeepAlive: f.KeepAlive})
		if code != 0 {
			return &exitCodeError{code: code, err: err}
		}
		return err
	})
}

func (c *command) Sweep(ctx context.Context, f SweepFlags) error {
	if f.OlderThan < 0 {
		return usagef("--older-than must not be negative")
	}
	return c.withClient(func(cl *superslots.Client) error {
		n, err := cl.Sweep(ctx, f.OlderThan)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.out, "Removed %d stale registration(s)\n", n)
		return err
	})
}
