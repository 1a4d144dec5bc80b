package pipeline

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"txetl/internal/aggregate"
	"txetl/internal/loader"
	"txetl/internal/model"
)

// Status of a load run as recorded in the run ledger.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// samplesPerReason caps the example lines kept for each rejection reason.
const samplesPerReason = 3

// RejectionSummary counts one rejection reason.
type RejectionSummary struct {
	Count   int64    `json:"count"`
	Samples []string `json:"samples,omitempty"`
}

// Report is the end-of-run summary printed by `etl load`.
//
// For a run that read its input to the end, Rejected equals
// Read - Loaded - Unflushed.
type Report struct {
	RunID       string    `json:"run_id"`
	Job         string    `json:"job"`
	Source      string    `json:"source"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Bytes       int64     `json:"bytes"`
	Status      Status    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Mapping     string    `json:"column_mapping,omitempty"`

	Read      int64 `json:"rows_read"`
	Loaded    int64 `json:"rows_loaded"`
	Rejected  int64 `json:"rows_rejected"`
	Unflushed int64 `json:"rows_unflushed"`

	Rejections map[model.Reason]RejectionSummary `json:"rejections"`

	BatchesCommitted int64                `json:"batches_committed"`
	BatchesFailed    []loader.FailedBatch `json:"batches_failed,omitempty"`

	// ResumedFrom is the first line this run was asked to read.
	ResumedFrom int `json:"resumed_from_line,omitempty"`
	// ResumeLine is where a follow-up run should start, or 0 when nothing
	// is left to load.
	ResumeLine int `json:"resume_line"`

	Refresh      *aggregate.RefreshReport `json:"refresh,omitempty"`
	RefreshError string                   `json:"refresh_error,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// rejectAgg counts rejections per reason and keeps the first few per reason
// for the report. Safe for concurrent use.
type rejectAgg struct {
	mu      sync.Mutex
	limit   int
	total   int64
	buckets map[model.Reason]*RejectionSummary
}

func newRejectAgg(limit int) *rejectAgg {
	return &rejectAgg{limit: limit, buckets: make(map[model.Reason]*RejectionSummary)}
}

func (a *rejectAgg) add(r model.Rejection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[r.Reason]
	if !ok {
		b = &RejectionSummary{}
		a.buckets[r.Reason] = b
	}
	b.Count++
	if len(b.Samples) < a.limit {
		b.Samples = append(b.Samples, r.String())
	}
	a.total++
}

// snapshot returns a copy of the counts with every known reason present.
func (a *rejectAgg) snapshot() (map[model.Reason]RejectionSummary, int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[model.Reason]RejectionSummary, len(model.Reasons))
	for _, reason := range model.Reasons {
		out[reason] = RejectionSummary{}
	}
	for reason, b := range a.buckets {
		out[reason] = RejectionSummary{Count: b.Count, Samples: append([]string(nil), b.Samples...)}
	}
	return out, a.total
}

// reasons returns the reasons with a non-zero count, sorted.
func reasons(m map[model.Reason]RejectionSummary) []model.Reason {
	var out []model.Reason
	for r, s := range m {
		if s.Count > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
