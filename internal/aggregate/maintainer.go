// Package aggregate maintains the summary relations derived from the fact
// table.
//
// A refresh recomputes every aggregate from scratch inside one store
// transaction and replaces the persisted tables wholesale. Readers of the
// in-process snapshot keep seeing the previous generation until the new one
// has committed, at which point it is swapped in atomically.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"txetl/internal/logging"
	"txetl/internal/metrics"
	"txetl/internal/model"
	"txetl/internal/storage"
)

var (
	// ErrRefreshInProgress is returned when another refresh holds the lock.
	ErrRefreshInProgress = errors.New("aggregate: refresh already in progress")
	// ErrNoSnapshot is returned by Load before the first refresh.
	ErrNoSnapshot = errors.New("aggregate: no refresh has been committed")
)

// Publisher receives every committed snapshot.
type Publisher interface {
	Publish(ctx context.Context, s *Snapshot) error
}

// RefreshReport summarizes one successful refresh.
type RefreshReport struct {
	Generation int64          `json:"generation"`
	Duration   time.Duration  `json:"duration_ns"`
	Rows       map[string]int `json:"rows"`
}

// Maintainer owns the refresh lock and the current snapshot.
type Maintainer struct {
	repo      storage.Repository
	job       string
	log       *zap.Logger
	publisher Publisher

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// New returns a Maintainer. publisher may be nil.
func New(repo storage.Repository, job string, publisher Publisher, log *zap.Logger) *Maintainer {
	return &Maintainer{
		repo:      repo,
		job:       job,
		log:       logging.OrNop(log),
		publisher: publisher,
		now:       time.Now,
	}
}

// Current returns the last snapshot committed by this Maintainer, or nil.
// It never blocks.
func (m *Maintainer) Current() *Snapshot {
	return m.current.Load()
}

// Refresh recomputes every aggregate. Only one refresh runs at a time; a
// concurrent call fails fast with ErrRefreshInProgress. On any error the
// store is rolled back and Current is unchanged.
func (m *Maintainer) Refresh(ctx context.Context) (RefreshReport, error) {
	if !m.mu.TryLock() {
		return RefreshReport{}, ErrRefreshInProgress
	}
	defer m.mu.Unlock()

	start := m.now()
	var snap *Snapshot
	err := storage.InTx(ctx, m.repo, func(tx storage.Tx) error {
		var err error
		snap, err = m.compute(ctx, tx, start)
		if err != nil {
			return err
		}
		return persist(ctx, tx, m.repo.Dialect(), snap)
	})
	elapsed := m.now().Sub(start)
	metrics.RecordStep(m.job, "refresh", err, elapsed)
	if err != nil {
		m.log.Error("aggregate: refresh failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return RefreshReport{}, fmt.Errorf("refresh: %w", err)
	}

	m.current.Store(snap)

	rep := RefreshReport{Generation: snap.Generation, Duration: elapsed, Rows: make(map[string]int, len(snap.Aggregates))}
	for _, a := range snap.Aggregates {
		rep.Rows[a.Name] = len(a.Rows)
		metrics.RecordRefresh(m.job, a.Name, len(a.Rows))
	}
	m.log.Info("aggregate: refresh committed",
		zap.Int64("generation", snap.Generation),
		zap.Int("aggregates", len(snap.Aggregates)),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)),
	)

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, snap); err != nil {
			// The refresh is committed; a stale cache is not a failed refresh.
			m.log.Warn("aggregate: publish failed", zap.Int64("generation", snap.Generation), zap.Error(err))
		}
	}
	return rep, nil
}

func (m *Maintainer) compute(ctx context.Context, q storage.Querier, at time.Time) (*Snapshot, error) {
	var gen int64
	if err := q.QueryRow(ctx, "SELECT COALESCE(MAX(generation), 0) FROM summary_refresh").Scan(&gen); err != nil {
		return nil, fmt.Errorf("read generation: %w", err)
	}

	d := m.repo.Dialect()
	snap := &Snapshot{Generation: gen + 1, RefreshedAt: at.UTC().Truncate(time.Millisecond)}
	for _, def := range definitions {
		groups, err := def.compute(ctx, q, d)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", def.name, err)
		}
		snap.Aggregates = append(snap.Aggregates, Aggregate{Name: def.name, Rows: rowsFrom(groups)})
	}
	return snap, nil
}

var aggColumns = []string{"seq", "group_key", "group_id", "transaction_count", "total_cents", "average_cents", "rank_position"}

func persist(ctx context.Context, tx storage.Tx, d storage.Dialect, s *Snapshot) error {
	for _, a := range s.Aggregates {
		table := model.AggregateTable(a.Name)
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		ins := d.Insert(table, aggColumns)
		for i, r := range a.Rows {
			var gid any
			if r.GroupID != nil {
				gid = *r.GroupID
			}
			if _, err := tx.Exec(ctx, ins, i+1, r.GroupKey, gid, r.Count,
				model.Cents(r.Total), model.Cents(r.Average), r.Rank); err != nil {
				return fmt.Errorf("write %s: %w", table, err)
			}
		}
	}

	if _, err := tx.Exec(ctx, "DELETE FROM summary_refresh"); err != nil {
		return fmt.Errorf("clear summary_refresh: %w", err)
	}
	ins := d.Insert("summary_refresh", []string{"aggregate_name", "row_count", "generation", "refreshed_unix_ms"})
	for _, a := range s.Aggregates {
		if _, err := tx.Exec(ctx, ins, a.Name, len(a.Rows), s.Generation, s.RefreshedAt.UnixMilli()); err != nil {
			return fmt.Errorf("write summary_refresh: %w", err)
		}
	}
	return nil
}

// Load reads the last committed snapshot from the store. It returns
// ErrNoSnapshot when no refresh has run yet.
func (m *Maintainer) Load(ctx context.Context) (*Snapshot, error) {
	return Load(ctx, m.repo)
}

// Load reads the persisted snapshot through q.
func Load(ctx context.Context, q storage.Querier) (*Snapshot, error) {
	var (
		gen int64
		ms  int64
	)
	err := q.QueryRow(ctx, "SELECT generation, refreshed_unix_ms FROM summary_refresh ORDER BY aggregate_name").Scan(&gen, &ms)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read summary_refresh: %w", err)
	}

	snap := &Snapshot{Generation: gen, RefreshedAt: time.UnixMilli(ms).UTC()}
	for _, name := range model.AggregateNames {
		rows, err := loadRows(ctx, q, name)
		if err != nil {
			return nil, err
		}
		snap.Aggregates = append(snap.Aggregates, Aggregate{Name: name, Rows: rows})
	}
	return snap, nil
}

func loadRows(ctx context.Context, q storage.Querier, name string) ([]Row, error) {
	table := model.AggregateTable(name)
	rows, err := q.Query(ctx, "SELECT group_key, group_id, transaction_count, total_cents, average_cents, rank_position FROM "+
		table+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var (
			r          Row
			gid        *int64
			total, avg int64
		)
		if err := rows.Scan(&r.GroupKey, &gid, &r.Count, &total, &avg, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		r.GroupID = gid
		r.Total = model.FromCents(total)
		r.Average = model.FromCents(avg)
		out = append(out, r)
	}
	return out, rows.Err()
}
