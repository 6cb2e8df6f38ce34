// Package procinfo looks up what the operating system knows about a
// registered pid. It never signals the process; the prober does that.
package procinfo

import (
	"context"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Info describes a pid at lookup time. Zero fields mean unknown.
type Info struct {
	PID     int       `json:"pid"`
	Running bool      `json:"running"`
	Name    string    `json:"name,omitempty"`
	Started time.Time `json:"started,omitzero"`
}

// Lookup returns Info for pid. A pid that does not exist yields Running=false
// and no error.
func Lookup(ctx context.Context, pid int) (Info, error) {
	info := Info{PID: pid}
	if pid <= 0 {
		return info, nil
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return info, err
	}
	info.Running = true
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// exited between the two calls
		info.Running = false
		return info, nil
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		info.Name = name
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		info.Started = time.UnixMilli(ms)
	}
	return info, nil
}

// Recycled reports whether the pid now belongs to a process started after the
// registration was written, which means the original waiter is gone.
func (i Info) Recycled(registered time.Time) bool {
	if !i.Running || i.Started.IsZero() {
		return false
	}
	// process creation times have coarse resolution on some platforms
	return i.Started.After(registered.Add(time.Second))
}
