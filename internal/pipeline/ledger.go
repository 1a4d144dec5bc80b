package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txetl/internal/storage"
)

// ErrNoRuns is returned by LastRun when the job has never been started.
var ErrNoRuns = errors.New("pipeline: no recorded runs")

const maxErrorText = 255

// RunRecord is one row of the load_run ledger.
type RunRecord struct {
	RunID       string `json:"run_id"`
	Job         string `json:"job"`
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
	Status      Status `json:"status"`
	Read        int64  `json:"rows_read"`
	Loaded      int64  `json:"rows_loaded"`
	Rejected    int64  `json:"rows_rejected"`
	Unflushed   int64  `json:"rows_unflushed"`
	ResumeLine  int    `json:"resume_line"`
	Error       string `json:"error,omitempty"`
}

func startRun(ctx context.Context, q storage.Querier, d storage.Dialect, r *Report) error {
	_, err := q.Exec(ctx,
		"INSERT INTO load_run (run_id, job, source, fingerprint, status, started_at, started_unix_ms, "+
			"rows_read, rows_loaded, rows_rejected, rows_unflushed, resume_line) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?)",
		r.RunID, r.Job, r.Source, "", string(StatusRunning),
		d.Time(r.StartedAt), r.StartedAt.UnixMilli(), r.ResumedFrom)
	if err != nil {
		return fmt.Errorf("run ledger: start %s: %w", r.RunID, err)
	}
	return nil
}

func finishRun(ctx context.Context, q storage.Querier, d storage.Dialect, r *Report) error {
	var errText any
	if r.Error != "" {
		errText = truncate(r.Error, maxErrorText)
	}
	_, err := q.Exec(ctx,
		"UPDATE load_run SET fingerprint = ?, status = ?, finished_at = ?, rows_read = ?, rows_loaded = ?, "+
			"rows_rejected = ?, rows_unflushed = ?, resume_line = ?, error_text = ? WHERE run_id = ?",
		r.Fingerprint, string(r.Status), d.Time(r.FinishedAt), r.Read, r.Loaded,
		r.Rejected, r.Unflushed, r.ResumeLine, errText, r.RunID)
	if err != nil {
		return fmt.Errorf("run ledger: finish %s: %w", r.RunID, err)
	}
	return nil
}

// LastRun returns the most recently started run of job.
func LastRun(ctx context.Context, q storage.Querier, job string) (RunRecord, error) {
	var (
		rec     RunRecord
		status  string
		resume  int64
		errText *string
	)
	err := q.QueryRow(ctx,
		"SELECT run_id, job, source, fingerprint, status, rows_read, rows_loaded, rows_rejected, "+
			"rows_unflushed, resume_line, error_text FROM load_run "+
			"WHERE job = ? AND started_unix_ms = (SELECT MAX(started_unix_ms) FROM load_run WHERE job = ?) "+
			"ORDER BY run_id",
		job, job,
	).Scan(&rec.RunID, &rec.Job, &rec.Source, &rec.Fingerprint, &status, &rec.Read, &rec.Loaded,
		&rec.Rejected, &rec.Unflushed, &resume, &errText)
	if errors.Is(err, storage.ErrNoRows) {
		return RunRecord{}, ErrNoRuns
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("run ledger: last run of %s: %w", job, err)
	}
	rec.Status = Status(status)
	rec.ResumeLine = int(resume)
	if errText != nil {
		rec.Error = *errText
	}
	return rec, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func elapsedSince(start, end time.Time) time.Duration {
	return end.Sub(start).Truncate(time.Millisecond)
}
