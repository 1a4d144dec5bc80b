// Package loader writes validated transactions into the normalized store in
// batches. Each batch is one store transaction: dimensions and customer
// profiles are resolved and facts inserted inside it, so a batch is either
// fully committed or fully rolled back.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"txetl/internal/customer"
	"txetl/internal/dimension"
	"txetl/internal/logging"
	"txetl/internal/metrics"
	"txetl/internal/model"
	"txetl/internal/storage"
)

// FactTable is the table facts are inserted into.
const FactTable = "fact_transaction"

// factColumns is the insert column order used by factArgs.
var factColumns = []string{
	"id", "customer_id",
	model.DimRegion.FactColumn(), model.DimTier.FactColumn(),
	model.DimEmployment.FactColumn(), model.DimPaymentMethod.FactColumn(),
	"occurred_at", "is_referral", "amount_cents",
}

// Config controls batching and retries.
type Config struct {
	Job          string
	BatchSize    int
	Workers      int
	RetryBackoff time.Duration
}

// FailedBatch describes a batch that was rolled back and not retried.
type FailedBatch struct {
	Seq       int    `json:"seq"`
	FirstLine int    `json:"first_line"`
	LastLine  int    `json:"last_line"`
	Records   int    `json:"records"`
	Error     string `json:"error"`
}

// Result summarizes one Run.
type Result struct {
	Loaded           int64         `json:"loaded"`
	Duplicates       int64         `json:"duplicates"`
	FailedRecords    int64         `json:"failed_records"`
	Unflushed        int64         `json:"unflushed"`
	BatchesCommitted int64         `json:"batches_committed"`
	BatchesFailed    []FailedBatch `json:"batches_failed,omitempty"`
	// LastCommittedLine is the highest source line of any committed batch.
	LastCommittedLine int `json:"last_committed_line"`
	// ResumeLine is the lowest source line that was never written, or 0
	// when every transaction reached a commit or a rollback.
	ResumeLine int `json:"resume_line"`
}

// Loader batches transactions and writes them with a pool of workers.
type Loader struct {
	repo storage.Repository
	cfg  Config
	log  *zap.Logger

	// OnReject receives duplicate_id and batch_failed rejections. It is
	// called from worker goroutines and must be safe for concurrent use.
	OnReject func(model.Rejection)

	// OnFatal is called once with the error that stops the run, before Run
	// drains its input. Callers use it to cancel upstream stages.
	OnFatal func(error)

	// sleep waits between a failed batch and its retry.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New returns a Loader writing to repo. Non-positive sizes fall back to one
// worker and batches of 10000.
func New(repo storage.Repository, cfg Config, log *zap.Logger) *Loader {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Loader{
		repo:  repo,
		cfg:   cfg,
		log:   logging.OrNop(log),
		sleep: sleepCtx,
		now:   time.Now,
	}
}

type batch struct {
	seq  int
	txns []model.Transaction
}

func (b batch) firstLine() int { return b.txns[0].Line }
func (b batch) lastLine() int  { return b.txns[len(b.txns)-1].Line }

// counters are shared by the batcher and the workers.
type counters struct {
	loaded     atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
	unflushed  atomic.Int64
	committed  atomic.Int64

	mu         sync.Mutex
	failedList []FailedBatch
	lastLine   int
	firstDrop  int
}

// drop counts txns as unflushed and remembers the lowest line among them.
func (c *counters) drop(txns ...model.Transaction) {
	if len(txns) == 0 {
		return
	}
	c.unflushed.Add(int64(len(txns)))
	low := txns[0].Line
	for _, t := range txns[1:] {
		low = min(low, t.Line)
	}
	c.mu.Lock()
	if c.firstDrop == 0 || low < c.firstDrop {
		c.firstDrop = low
	}
	c.mu.Unlock()
}

// Run consumes in until it is closed or ctx is canceled.
//
// Batches are formed in arrival order by one batcher and written by
// cfg.Workers workers. After cancellation no new batch starts; a batch that
// is already writing finishes on a context detached from the cancellation.
// Transactions that never reached a batch write are counted as Unflushed.
//
// The returned error is non-nil only for a fatal *model.StorageError, or
// ctx.Err() when the run was canceled. Result is valid in both cases.
func (l *Loader) Run(ctx context.Context, in <-chan model.Transaction) (Result, error) {
	var c counters
	start := l.now()

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan batch, l.cfg.Workers)

	g.Go(func() error {
		defer close(batches)
		return l.batch(gctx, in, batches, &c)
	})

	for i := 0; i < l.cfg.Workers; i++ {
		g.Go(func() error {
			for b := range batches {
				if gctx.Err() != nil {
					c.drop(b.txns...)
					continue
				}
				if err := l.write(gctx, b, &c, start); err != nil {
					if l.OnFatal != nil {
						l.OnFatal(err)
					}
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()

	// The batcher stopped early; whatever is still queued never gets written.
	for t := range in {
		c.drop(t)
	}

	res := Result{
		Loaded:            c.loaded.Load(),
		Duplicates:        c.duplicates.Load(),
		FailedRecords:     c.failed.Load(),
		Unflushed:         c.unflushed.Load(),
		BatchesCommitted:  c.committed.Load(),
		BatchesFailed:     c.failedList,
		LastCommittedLine: c.lastLine,
		ResumeLine:        c.firstDrop,
	}

	l.log.Info("loader: finished",
		zap.Int64("loaded", res.Loaded),
		zap.Int64("duplicates", res.Duplicates),
		zap.Int64("failed_records", res.FailedRecords),
		zap.Int64("unflushed", res.Unflushed),
		zap.Int64("batches", res.BatchesCommitted),
		zap.Int("batches_failed", len(res.BatchesFailed)),
		zap.Duration("elapsed", l.now().Sub(start).Truncate(time.Millisecond)),
	)

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

// batch groups in into batches of cfg.BatchSize.
func (l *Loader) batch(ctx context.Context, in <-chan model.Transaction, out chan<- batch, c *counters) error {
	seq := 0
	cur := make([]model.Transaction, 0, l.cfg.BatchSize)

	send := func() bool {
		seq++
		b := batch{seq: seq, txns: cur}
		cur = make([]model.Transaction, 0, l.cfg.BatchSize)
		select {
		case out <- b:
			return true
		case <-ctx.Done():
			c.drop(b.txns...)
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			c.drop(cur...)
			return nil
		case t, ok := <-in:
			if !ok {
				if len(cur) > 0 {
					send()
				}
				return nil
			}
			cur = append(cur, t)
			if len(cur) >= l.cfg.BatchSize && !send() {
				return nil
			}
		}
	}
}

// write loads one batch, retrying a storage failure once.
func (l *Loader) write(ctx context.Context, b batch, c *counters, start time.Time) error {
	// In-flight work completes even if the run is canceled meanwhile.
	wctx := context.WithoutCancel(ctx)

	loaded, dups, err := l.load(wctx, b)
	var se *model.StorageError
	if errors.As(err, &se) {
		l.log.Warn("loader: batch failed, retrying",
			zap.Int("batch", b.seq),
			zap.Int("first_line", b.firstLine()),
			zap.Int("last_line", b.lastLine()),
			zap.Duration("backoff", l.cfg.RetryBackoff),
			zap.Error(err),
		)
		if serr := l.sleep(ctx, l.cfg.RetryBackoff); serr != nil {
			c.drop(b.txns...)
			return nil
		}
		loaded, dups, err = l.load(wctx, b)
	}

	var ce *model.ConflictError
	switch {
	case err == nil:
		l.committed(b, loaded, dups, c, start)
		return nil
	case errors.As(err, &ce):
		l.failed(b, ce, c)
		return nil
	default:
		c.drop(b.txns...)
		metrics.RecordBatches(l.cfg.Job, "fatal", 1)
		l.log.Error("loader: batch failed twice, stopping",
			zap.Int("batch", b.seq),
			zap.Int("first_line", b.firstLine()),
			zap.Int("last_line", b.lastLine()),
			zap.Error(err),
		)
		return err
	}
}

func (l *Loader) committed(b batch, loaded int, dups []model.Transaction, c *counters, start time.Time) {
	c.loaded.Add(int64(loaded))
	c.duplicates.Add(int64(len(dups)))
	n := c.committed.Add(1)

	c.mu.Lock()
	if last := b.lastLine(); last > c.lastLine {
		c.lastLine = last
	}
	c.mu.Unlock()

	for _, t := range dups {
		l.reject(model.Rejection{Line: t.Line, Reason: model.ReasonDuplicateID, Detail: fmt.Sprintf("transaction_id=%d", t.ID)})
	}

	metrics.RecordBatches(l.cfg.Job, "committed", 1)
	metrics.RecordRow(l.cfg.Job, "loaded", int64(loaded))

	elapsed := l.now().Sub(start)
	total := c.loaded.Load()
	var rps int64
	if s := elapsed.Seconds(); s > 0 {
		rps = int64(float64(total) / s)
	}
	l.log.Info("loader: batch committed",
		zap.Int64("batch", n),
		zap.Int("rows", len(b.txns)),
		zap.Int("inserted", loaded),
		zap.Int("duplicates", len(dups)),
		zap.Int("first_line", b.firstLine()),
		zap.Int("last_line", b.lastLine()),
		zap.Int64("total_inserted", total),
		zap.Int64("rps", rps),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
	)
}

func (l *Loader) failed(b batch, ce *model.ConflictError, c *counters) {
	c.failed.Add(int64(len(b.txns)))

	c.mu.Lock()
	c.failedList = append(c.failedList, FailedBatch{
		Seq:       b.seq,
		FirstLine: ce.FirstLine,
		LastLine:  ce.LastLine,
		Records:   ce.Records,
		Error:     ce.Err.Error(),
	})
	c.mu.Unlock()

	for _, t := range b.txns {
		l.reject(model.Rejection{Line: t.Line, Reason: model.ReasonBatchFailed, Detail: fmt.Sprintf("batch %d", b.seq)})
	}

	metrics.RecordBatches(l.cfg.Job, "failed", 1)
	l.log.Warn("loader: batch rolled back",
		zap.Int("batch", b.seq),
		zap.Int("rows", ce.Records),
		zap.Int("first_line", ce.FirstLine),
		zap.Int("last_line", ce.LastLine),
		zap.Error(ce.Err),
	)
}

func (l *Loader) reject(r model.Rejection) {
	if l.OnReject != nil {
		l.OnReject(r)
	}
}

// load runs one batch in a single store transaction. It returns the number
// of inserted facts and the transactions skipped as duplicates. Errors are
// classified as *model.ConflictError or *model.StorageError.
func (l *Loader) load(ctx context.Context, b batch) (int, []model.Transaction, error) {
	var (
		loaded int
		dups   []model.Transaction
	)
	d := l.repo.Dialect()

	err := storage.InTx(ctx, l.repo, func(tx storage.Tx) error {
		// A retry must not see counts from the rolled back attempt.
		loaded, dups = 0, nil

		dims := dimension.NewCache(tx, d)
		customers := customer.NewCache(tx, d)
		seen := make(map[int64]struct{}, len(b.txns))

		for _, t := range b.txns {
			if _, ok := seen[t.ID]; ok {
				dups = append(dups, t)
				continue
			}
			seen[t.ID] = struct{}{}

			args, err := factArgs(ctx, d, dims, customers, t)
			if err != nil {
				return fmt.Errorf("line %d: %w", t.Line, err)
			}
			ok, err := storage.InsertIfAbsent(ctx, tx, d, FactTable, factColumns, args...)
			if err != nil {
				return fmt.Errorf("insert fact line %d: %w", t.Line, err)
			}
			if !ok {
				dups = append(dups, t)
				continue
			}
			loaded++
		}
		return nil
	})
	if err == nil {
		return loaded, dups, nil
	}
	return 0, nil, classify(b, err)
}

func factArgs(ctx context.Context, d storage.Dialect, dims *dimension.Cache, customers *customer.Cache, t model.Transaction) ([]any, error) {
	custID, err := customers.Resolve(ctx, t.Customer)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(factColumns))
	args = append(args, t.ID, custID)
	for _, dim := range model.Dimensions {
		id, err := dims.Resolve(ctx, dim, t.DimensionValue(dim))
		if err != nil {
			return nil, err
		}
		args = append(args, id)
	}
	referral := 0
	if t.Referral {
		referral = 1
	}
	return append(args, d.Time(t.OccurredAt), referral, model.Cents(t.Amount)), nil
}

// classify maps a batch error onto the error taxonomy. Integrity and data
// errors roll back only this batch; everything else is a storage failure.
func classify(b batch, err error) error {
	if storage.IsIntegrity(err) ||
		errors.Is(err, dimension.ErrEmptyName) ||
		errors.Is(err, customer.ErrInvalidProfile) {
		return &model.ConflictError{FirstLine: b.firstLine(), LastLine: b.lastLine(), Records: len(b.txns), Err: err}
	}
	return &model.StorageError{FirstLine: b.firstLine(), LastLine: b.lastLine(), Records: len(b.txns), Err: err}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
