// Package pipeline runs one load end to end:
//
//	source → fingerprint → CSV parser → tap (counts rows read)
//	       → validator → batch loader → optional aggregate refresh
//
// Stages are joined by bounded channels. A fatal loader error cancels the
// parser; every stage downstream of it keeps draining so nothing blocks and
// every row read ends up loaded, rejected or unflushed. Each run is recorded
// in the load_run ledger.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"txetl/internal/aggregate"
	"txetl/internal/datasource"
	"txetl/internal/loader"
	"txetl/internal/logging"
	"txetl/internal/metrics"
	"txetl/internal/model"
	csvparser "txetl/internal/parser/csv"
	"txetl/internal/storage"
	"txetl/internal/validate"
)

// Config for a Runner.
type Config struct {
	Job           string
	Parser        csvparser.Options
	Loader        loader.Config
	ChannelBuffer int
}

// Runner executes load runs against one repository.
type Runner struct {
	repo       storage.Repository
	validator  *validate.Validator
	maintainer *aggregate.Maintainer
	cfg        Config
	log        *zap.Logger

	newID func() string
	now   func() time.Time
}

// New returns a Runner. A nil maintainer skips the refresh after a load.
func New(repo storage.Repository, v *validate.Validator, m *aggregate.Maintainer, cfg Config, log *zap.Logger) *Runner {
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 4096
	}
	if cfg.Job == "" {
		cfg.Job = "etl_job"
	}
	cfg.Loader.Job = cfg.Job
	return &Runner{
		repo:       repo,
		validator:  v,
		maintainer: m,
		cfg:        cfg,
		log:        logging.OrNop(log),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// Run loads src and returns the run report. The report is non-nil whenever
// the run was recorded in the ledger, including failed and cancelled runs.
func (r *Runner) Run(ctx context.Context, src datasource.Source) (*Report, error) {
	d := r.repo.Dialect()
	rep := &Report{
		RunID:       r.newID(),
		Job:         r.cfg.Job,
		Source:      src.Name(),
		Status:      StatusRunning,
		StartedAt:   r.now().UTC(),
		ResumedFrom: r.cfg.Parser.ResumeFromLine,
	}
	if err := startRun(ctx, r.repo, d, rep); err != nil {
		return nil, err
	}
	r.log.Info("pipeline: run started",
		zap.String("run_id", rep.RunID),
		zap.String("source", rep.Source),
		zap.Int("resume_from_line", rep.ResumedFrom),
		zap.Int("workers", r.cfg.Loader.Workers),
		zap.Int("batch", r.cfg.Loader.BatchSize),
		zap.Int("buffer", r.cfg.ChannelBuffer),
	)

	err := r.load(ctx, src, rep)

	rep.FinishedAt = r.now().UTC()
	switch {
	case err == nil:
		rep.Status = StatusCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rep.Status = StatusCancelled
	default:
		rep.Status = StatusFailed
	}
	if err != nil {
		rep.Error = err.Error()
	}

	// The ledger is updated even when the caller's context is gone.
	if ferr := finishRun(context.WithoutCancel(ctx), r.repo, d, rep); ferr != nil {
		r.log.Error("pipeline: ledger update failed", zap.String("run_id", rep.RunID), zap.Error(ferr))
		if err == nil {
			err = ferr
		}
	}
	r.record(rep, err)

	if err != nil || r.maintainer == nil {
		return rep, err
	}

	rr, err := r.maintainer.Refresh(ctx)
	if err != nil {
		rep.RefreshError = err.Error()
		return rep, err
	}
	rep.Refresh = &rr
	return rep, nil
}

func (r *Runner) load(ctx context.Context, src datasource.Source, rep *Report) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rc, err := src.Open(ctx)
	if err != nil {
		rep.ResumeLine = max(rep.ResumedFrom, 1)
		return fmt.Errorf("open source %s: %w", src.Name(), err)
	}
	hr := datasource.Fingerprint(rc)
	defer hr.Close()

	buf := r.cfg.ChannelBuffer
	rawCh := make(chan model.RawRecord, buf)     // parser → tap
	tapCh := make(chan model.RawRecord, buf)     // tap → validator
	validCh := make(chan model.Transaction, buf) // validator → loader

	rejects := newRejectAgg(samplesPerReason)
	var (
		read     atomic.Int64
		lastRead atomic.Int64
		stats    csvparser.Stats
		parseErr error
		wg       sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(rawCh)
		stats, parseErr = csvparser.StreamRecords(ctx, hr, r.cfg.Parser, rawCh)
	}()

	go func() {
		defer wg.Done()
		defer close(tapCh)
		for rec := range rawCh {
			read.Add(1)
			lastRead.Store(int64(rec.Line))
			tapCh <- rec
		}
	}()

	go func() {
		defer wg.Done()
		defer close(validCh)
		// Detached so rows read before a cancellation still reach the
		// loader and are counted there as unflushed.
		r.validator.Loop(context.WithoutCancel(ctx), tapCh, validCh, rejects.add)
	}()

	ld := loader.New(r.repo, r.cfg.Loader, r.log)
	ld.OnReject = rejects.add
	ld.OnFatal = func(error) { cancel() }

	res, loadErr := ld.Run(ctx, validCh)
	wg.Wait()

	rep.Fingerprint = hr.Sum()
	rep.Bytes = hr.Bytes()
	rep.Mapping = string(stats.Mapping)
	rep.Read = read.Load()
	rep.Loaded = res.Loaded
	rep.Unflushed = res.Unflushed
	rep.BatchesCommitted = res.BatchesCommitted
	rep.BatchesFailed = res.BatchesFailed
	rep.Rejections, rep.Rejected = rejects.snapshot()
	rep.ResumeLine = res.ResumeLine

	switch {
	case loadErr != nil:
		err = loadErr
	case parseErr != nil:
		err = fmt.Errorf("parse %s: %w", src.Name(), parseErr)
	}
	if err != nil && rep.ResumeLine == 0 {
		// Everything read was written; continue after the last line read.
		rep.ResumeLine = int(lastRead.Load()) + 1
		if rep.Read == 0 {
			rep.ResumeLine = max(rep.ResumedFrom, 1)
		}
	}
	return err
}

func (r *Runner) record(rep *Report, err error) {
	job := r.cfg.Job
	metrics.RecordRow(job, "read", rep.Read)
	metrics.RecordRow(job, "rejected", rep.Rejected)
	metrics.RecordRow(job, "unflushed", rep.Unflushed)
	for _, reason := range reasons(rep.Rejections) {
		metrics.RecordRejection(job, string(reason), rep.Rejections[reason].Count)
	}
	elapsed := elapsedSince(rep.StartedAt, rep.FinishedAt)
	metrics.RecordStep(job, "load", err, elapsed)

	fields := []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.String("status", string(rep.Status)),
		zap.Int64("read", rep.Read),
		zap.Int64("loaded", rep.Loaded),
		zap.Int64("rejected", rep.Rejected),
		zap.Int64("unflushed", rep.Unflushed),
		zap.Int64("batches", rep.BatchesCommitted),
		zap.Int("batches_failed", len(rep.BatchesFailed)),
		zap.String("fingerprint", rep.Fingerprint),
		zap.Duration("elapsed", elapsed),
	}
	for _, reason := range reasons(rep.Rejections) {
		fields = append(fields, zap.Int64("rejected_"+string(reason), rep.Rejections[reason].Count))
	}
	if err != nil {
		fields = append(fields, zap.Int("resume_line", rep.ResumeLine), zap.Error(err))
		r.log.Error("pipeline: run finished", fields...)
		return
	}
	r.log.Info("pipeline: run finished", fields...)
}
