// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the dictionary pipeline.
//
// The package exposes a narrow interface (Backend) focused on counters and
// timing data. A global, pluggable backend defaults to a no-op implementation,
// so the Record helpers are always safe to call even when no real backend is
// configured. Concrete systems live in subpackages (prompush, datadog) and the
// rest of the code depends only on this package.
package metrics

import "time"

// Metric names shared by every backend.
const (
	StepTotal           = "datadict_step_total"
	StepDurationSeconds = "datadict_step_duration_seconds"
	RowsTotal           = "datadict_rows_total"
	ValuesTotal         = "datadict_values_total"
	BatchesTotal        = "datadict_batches_total"
	CommitsTotal        = "datadict_commits_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep counts one execution of a pipeline step (a shard scan, the
// consumer drain, an export) and records its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows increments a row-level counter. Kinds used by the pipeline:
//   - "scanned"
//   - "resumed"
//   - "row_errors"
//   - "field_skips"
func RecordRows(job, kind string, delta int64) {
	count(RowsTotal, job, kind, delta)
}

// RecordValues increments a value-level counter, kind "offered" or "inserted".
func RecordValues(job, kind string, delta int64) {
	count(ValuesTotal, job, kind, delta)
}

// RecordBatches increments the number of batches written by the consumer.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(BatchesTotal, float64(delta), Labels{"job": job})
}

// RecordCommits increments the number of committed transaction epochs.
func RecordCommits(job string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(CommitsTotal, float64(delta), Labels{"job": job})
}

func count(name, job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(name, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}
