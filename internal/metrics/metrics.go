// Package metrics records archive operation metrics with Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder holds the collectors of one registerer. A nil *Recorder
// records nothing.
type Recorder struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
	entries    *prometheus.CounterVec
}

// New creates the crate collectors and registers them with reg. Collectors
// already registered by an earlier call are reused, so several compressors
// can share one registerer.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crate_operations_total",
				Help: "Total number of archive operations",
			},
			[]string{"op", "format", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crate_operation_duration_seconds",
				Help:    "Archive operation duration in seconds",
				Buckets: []float64{.005, .025, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"op", "format"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crate_bytes_total",
				Help: "Bytes processed by archive operations",
			},
			[]string{"op", "kind"},
		),
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crate_entries_total",
				Help: "Entries written by archive operations",
			},
			[]string{"op", "source"},
		),
	}

	var err error
	if r.operations, err = register(reg, r.operations); err != nil {
		return nil, err
	}
	if r.duration, err = register(reg, r.duration); err != nil {
		return nil, err
	}
	if r.bytes, err = register(reg, r.bytes); err != nil {
		return nil, err
	}
	if r.entries, err = register(reg, r.entries); err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Operation records one finished operation.
func (r *Recorder) Operation(op, format string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	r.operations.WithLabelValues(op, format, result).Inc()
	r.duration.WithLabelValues(op, format).Observe(d.Seconds())
}

// Bytes adds n bytes of the given kind ("read", "written", "copied").
func (r *Recorder) Bytes(op, kind string, n uint64) {
	if r == nil || n == 0 {
		return
	}
	r.bytes.WithLabelValues(op, kind).Add(float64(n))
}

// Entries adds n entries that were encoded ("new") or passed through
// ("copied").
func (r *Recorder) Entries(op, source string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.entries.WithLabelValues(op, source).Add(float64(n))
}
