package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Number of waiter registrations written.",
		}, []string{"slot"},
	)
	deregistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "registry",
			Name:      "deregistrations_total",
			Help:      "Number of waiter entries removed by their own waiter.",
		}, []string{"slot"},
	)
	entries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "superslots",
			Subsystem: "registry",
			Name:      "entries",
			Help:      "Registry entries observed by the last listing.",
		},
	)
	triggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "dispatch",
			Name:      "triggers_total",
			Help:      "Number of trigger broadcasts.",
		}, []string{"slot"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "dispatch",
			Name:      "probes_total",
			Help:      "Probe results by outcome (alive, dead, error).",
		}, []string{"slot", "outcome"},
	)
	healed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "dispatch",
			Name:      "healed_total",
			Help:      "Entries removed because their process no longer exists.",
		}, []string{"slot"},
	)
	swept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "sweep",
			Name:      "removed_total",
			Help:      "Entries removed by stale sweeps.",
		},
	)
	commandRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "superslots",
			Subsystem: "waiter",
			Name:      "command_runs_total",
			Help:      "Commands run by waiters by result (ok, failed, not_found).",
		}, []string{"slot", "result"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "superslots",
			Subsystem: "waiter",
			Name:      "command_duration_seconds",
			Help:      "Wall time of commands run by waiters.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"slot"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{registrations, deregistrations, entries, triggers, probes, healed, swept, commandRuns, commandDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// WriteTextfile writes everything g gathers to dir/superslots_<name>.prom in the
// node_exporter textfile collector format. The write is atomic.
func WriteTextfile(dir, name string, g prometheus.Gatherer) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("superslots_%s.prom", name))
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncRegistration(slot string) {
	if regOK.Load() {
		registrations.WithLabelValues(slot).Inc()
	}
}

func IncDeregistration(slot string) {
	if regOK.Load() {
		deregistrations.WithLabelValues(slot).Inc()
	}
}

func SetEntries(n int) {
	if regOK.Load() {
		entries.Set(float64(n))
	}
}

func IncTrigger(slot string) {
	if regOK.Load() {
		triggers.WithLabelValues(slot).Inc()
	}
}

func IncProbe(slot, outcome string) {
	if regOK.Load() {
		probes.WithLabelValues(slot, outcome).Inc()
	}
}

func IncHealed(slot string) {
	if regOK.Load() {
		healed.WithLabelValues(slot).Inc()
	}
}

func AddSwept(n int64) {
	if regOK.Load() && n > 0 {
		swept.Add(float64(n))
	}
}

func ObserveCommand(slot, result string, seconds float64) {
	if regOK.Load() {
		commandRuns.WithLabelValues(slot, result).Inc()
		commandDuration.WithLabelValues(slot).Observe(seconds)
	}
}
