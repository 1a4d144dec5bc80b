package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txetl/internal/dimension"
	"txetl/internal/loader"
	"txetl/internal/model"
	"txetl/internal/storage"
	"txetl/internal/storage/storagetest"
)

func tx(id int64, at string, g model.Gender, age int, m model.MaritalStatus, region string, referral bool, amount string) model.Transaction {
	ts, err := time.Parse("2006-01-02 15:04", at)
	if err != nil {
		panic(err)
	}
	return model.Transaction{
		Line: int(id) + 1, ID: id, OccurredAt: ts,
		Customer: model.ProfileKey{Gender: g, Age: age, Marital: m},
		Region:   region, Tier: "gold", Employment: "employed", PaymentMethod: "card",
		Referral: referral, Amount: decimal.RequireFromString(amount),
	}
}

func load(t *testing.T, repo storage.Repository, txns ...model.Transaction) {
	t.Helper()
	ch := make(chan model.Transaction, len(txns))
	for _, x := range txns {
		ch <- x
	}
	close(ch)
	res, err := loader.New(repo, loader.Config{BatchSize: 100}, nil).Run(context.Background(), ch)
	require.NoError(t, err)
	require.EqualValues(t, len(txns), res.Loaded)
}

func byKey(rows []Row) map[string]Row {
	m := make(map[string]Row, len(rows))
	for _, r := range rows {
		m[r.GroupKey] = r
	}
	return m
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRefresh_EmptyFactTable(t *testing.T) {
	repo := storagetest.NewSQLite(t)
	m := New(repo, "test", nil, nil)

	rep, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Generation)

	snap := m.Current()
	require.NotNil(t, snap)
	assert.Empty(t, snap.Get(model.AggByRegion))
	assert.Empty(t, snap.Get(model.AggByMonth))
	assert.Len(t, snap.Get(model.AggByGenderMarital), 6)
	assert.Len(t, snap.Get(model.AggByReferral), 2)
	assert.Len(t, snap.Get(model.AggByHour), 24)
	assert.Len(t, snap.Get(model.AggByAgeBand), 6)
	for _, r := range snap.Get(model.AggByHour) {
		assert.Zero(t, r.Count)
		assert.True(t, r.Total.IsZero())
		assert.Equal(t, 1, r.Rank)
	}
	assert.Equal(t, 24, rep.Rows[model.AggByHour])
	assert.EqualValues(t, 9, storagetest.Count(t, repo, "summary_refresh"))
}

func TestRefresh_ExactTotals(t *testing.T) {
	repo := storagetest.NewSQLite(t)
	load(t, repo,
		tx(1, "2023-01-05 09:15", model.GenderMale, 30, model.MaritalMarried, "North", true, "0.10"),
		tx(2, "2023-01-06 09:45", model.GenderMale, 30, model.MaritalMarried, "North", false, "0.20"),
		tx(3, "2023-02-01 23:00", model.GenderFemale, 70, model.MaritalSingle, "South", false, "0.70"),
		tx(4, "2023-02-02 00:10", model.GenderUnknown, 18, model.MaritalSingle, "South", true, "100.01"),
	)
	// An entity with no facts still appears.
	_, err := dimension.Resolve(context.Background(), repo, repo.Dialect(), model.DimRegion, "East")
	require.NoError(t, err)

	m := New(repo, "test", nil, nil)
	_, err = m.Refresh(context.Background())
	require.NoError(t, err)
	snap := m.Current()

	regions := byKey(snap.Get(model.AggByRegion))
	require.Len(t, regions, 3)
	assert.True(t, regions["north"].Total.Equal(dec("0.30")), regions["north"].Total.String())
	assert.EqualValues(t, 2, regions["north"].Count)
	assert.True(t, regions["north"].Average.Equal(dec("0.15")))
	assert.True(t, regions["south"].Total.Equal(dec("100.71")))
	assert.Zero(t, regions["east"].Count)
	assert.NotNil(t, regions["east"].GroupID)
	assert.Equal(t, 1, regions["south"].Rank)
	assert.Equal(t, 2, regions["north"].Rank)
	assert.Equal(t, 3, regions["east"].Rank)

	ref := byKey(snap.Get(model.AggByReferral))
	assert.True(t, ref[ReferralYes].Total.Equal(dec("100.11")))
	assert.True(t, ref[ReferralNo].Total.Equal(dec("0.90")))

	hours := byKey(snap.Get(model.AggByHour))
	assert.EqualValues(t, 2, hours["09"].Count)
	assert.EqualValues(t, 1, hours["23"].Count)
	assert.EqualValues(t, 1, hours["00"].Count)

	months := snap.Get(model.AggByMonth)
	require.Len(t, months, 2)
	assert.Equal(t, "2023-01", months[0].GroupKey)
	assert.Equal(t, "2023-02", months[1].GroupKey)

	bands := byKey(snap.Get(model.AggByAgeBand))
	assert.EqualValues(t, 2, bands["25-34"].Count)
	assert.EqualValues(t, 1, bands["65+"].Count)
	assert.EqualValues(t, 1, bands["18-24"].Count)

	gm := byKey(snap.Get(model.AggByGenderMarital))
	assert.EqualValues(t, 2, gm["male/married"].Count)
	assert.Zero(t, gm["female/married"].Count)

	// Every aggregate sums to the fact table.
	for _, a := range snap.Aggregates {
		var n int64
		total := decimal.Zero
		for _, r := range a.Rows {
			n += r.Count
			total = total.Add(r.Total)
		}
		assert.EqualValues(t, 4, n, a.Name)
		assert.True(t, total.Equal(dec("101.01")), "%s: %s", a.Name, total)
	}
}

func TestRefresh_PersistsAndLoads(t *testing.T) {
	repo := storagetest.NewSQLite(t)
	load(t, repo, tx(1, "2023-03-01 12:00", model.GenderFemale, 40, model.MaritalMarried, "West", false, "12.34"))

	m := New(repo, "test", nil, nil)
	_, err := Load(context.Background(), repo)
	require.ErrorIs(t, err, ErrNoSnapshot)

	_, err = m.Refresh(context.Background())
	require.NoError(t, err)
	rep, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, rep.Generation)

	got, err := m.Load(context.Background())
	require.NoError(t, err)
	cur := m.Current()
	assert.Equal(t, cur.Generation, got.Generation)
	assert.True(t, cur.RefreshedAt.Equal(got.RefreshedAt))
	require.Len(t, got.Aggregates, len(model.AggregateNames))
	for i, a := range got.Aggregates {
		require.Len(t, a.Rows, len(cur.Aggregates[i].Rows), a.Name)
		for j, r := range a.Rows {
			want := cur.Aggregates[i].Rows[j]
			assert.Equal(t, want.GroupKey, r.GroupKey)
			assert.Equal(t, want.GroupID, r.GroupID)
			assert.Equal(t, want.Count, r.Count)
			assert.True(t, want.Total.Equal(r.Total))
			assert.Equal(t, want.Rank, r.Rank)
		}
	}
	assert.EqualValues(t, 1, storagetest.Count(t, repo, model.AggregateTable(model.AggByRegion)))
}

func TestRefresh_InProgress(t *testing.T) {
	m := New(storagetest.NewSQLite(t), "test", nil, nil)
	m.mu.Lock()
	_, err := m.Refresh(context.Background())
	m.mu.Unlock()
	require.ErrorIs(t, err, ErrRefreshInProgress)
	assert.Nil(t, m.Current())
}

type brokenRepo struct{ storage.Repository }

func (brokenRepo) Begin(context.Context) (storage.Tx, error) { return nil, errors.New("disk I/O error") }

func TestRefresh_FailureKeepsPreviousSnapshot(t *testing.T) {
	repo := storagetest.NewSQLite(t)
	m := New(repo, "test", nil, nil)
	_, err := m.Refresh(context.Background())
	require.NoError(t, err)
	before := m.Current()

	m.repo = brokenRepo{repo}
	_, err = m.Refresh(context.Background())
	require.Error(t, err)
	assert.Same(t, before, m.Current())
}

type recordingPublisher struct {
	got []*Snapshot
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, s *Snapshot) error {
	p.got = append(p.got, s)
	return p.err
}

func TestRefresh_Publishes(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	m := New(storagetest.NewSQLite(t), "test", pub, nil)

	_, err := m.Refresh(context.Background())
	require.NoError(t, err, "publish failure must not fail a committed refresh")
	require.Len(t, pub.got, 1)
	assert.Same(t, m.Current(), pub.got[0])
}

func TestRowsFrom_CompetitionRank(t *testing.T) {
	rows := rowsFrom([]group{
		{key: "a", count: 1, total: 500},
		{key: "b", count: 2, total: 900},
		{key: "c", count: 1, total: 500},
		{key: "d", count: 3, total: 100},
	})
	ranks := map[string]int{}
	for _, r := range rows {
		ranks[r.GroupKey] = r.Rank
	}
	assert.Equal(t, map[string]int{"b": 1, "a": 2, "c": 2, "d": 4}, ranks)
	assert.Equal(t, "a", rows[0].GroupKey, "row order is preserved")
}

func TestAverage(t *testing.T) {
	assert.EqualValues(t, 0, average(0, 0))
	assert.EqualValues(t, 33, average(100, 3))
	assert.EqualValues(t, 67, average(200, 3))
	assert.EqualValues(t, 3, average(5, 2))
}

func TestBandOf(t *testing.T) {
	cases := map[int]string{1: "18-24", 24: "18-24", 25: "25-34", 44: "35-44", 45: "45-54", 64: "55-64", 65: "65+", 119: "65+"}
	for age, want := range cases {
		assert.Equal(t, want, BandOf(age), "age %d", age)
	}
}
