// Package metrics is a backend-agnostic facade for operational metrics.
//
// Callers record counters and durations through package functions; the
// installed Backend (Pushgateway, DataDog, or the default no-op) decides
// where they go. Concrete backends live in subpackages so the pipeline never
// imports a metrics client directly.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names emitted by this package.
const (
	StepTotal       = "etl_step_total"
	StepDuration    = "etl_step_duration_seconds"
	RecordsTotal    = "etl_records_total"
	BatchesTotal    = "etl_batches_total"
	RejectionsTotal = "etl_rejections_total"
	AggregateRows   = "etl_aggregate_rows"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a latency or size style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline step and its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}

	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter. Kinds used by the pipeline
// are "read", "loaded", "rejected" and "unflushed".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatches counts batches by outcome ("committed" or "failed").
func RecordBatches(job, outcome string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job, "outcome": outcome})
}

// RecordRejection counts rejected rows by reason.
func RecordRejection(job, reason string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RejectionsTotal, float64(delta), Labels{"job": job, "reason": reason})
}

// RecordRefresh records the row count of one refreshed aggregate.
func RecordRefresh(job, aggregate string, rows int) {
	current().ObserveHistogram(AggregateRows, float64(rows), Labels{"job": job, "aggregate": aggregate})
}
