package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	t.Parallel()

	q := "SELECT id FROM t WHERE a = ? AND b = '?' AND c = ?"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, q, MySQL.Rebind(q))
	assert.Equal(t, "SELECT id FROM t WHERE a = $1 AND b = '?' AND c = $2", Postgres.Rebind(q))
	assert.Equal(t, "SELECT id FROM t WHERE a = @p1 AND b = '?' AND c = @p2", SQLServer.Rebind(q))
}

func TestInsertStatements(t *testing.T) {
	t.Parallel()
	cols := []string{"id", "name"}

	assert.Equal(t, "INSERT INTO t (id, name) VALUES (?, ?) ON CONFLICT DO NOTHING", SQLite.Insert("t", cols))
	assert.Equal(t, "INSERT INTO t (id, name) VALUES (?, ?) ON CONFLICT DO NOTHING", Postgres.Insert("t", cols))
	assert.Equal(t, "INSERT INTO t (id, name) VALUES (?, ?) ON DUPLICATE KEY UPDATE id = id", MySQL.Insert("t", cols))
	assert.Equal(t, "INSERT INTO t (id, name) VALUES (?, ?)", SQLServer.Insert("t", cols))
}

func TestTimeArg(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 1, 13, 5, 9, 0, time.FixedZone("x", 3600))

	assert.Equal(t, "2024-03-01 12:05:09", SQLite.Time(ts))
	assert.Equal(t, ts.UTC(), Postgres.Time(ts))
}

func TestSum(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "COALESCE(SUM(x), 0)", SQLite.Sum("x"))
	assert.Equal(t, "CAST(COALESCE(SUM(x), 0) AS BIGINT)", Postgres.Sum("x"))
}

func TestMigrationsRenderForEveryDialect(t *testing.T) {
	t.Parallel()

	for _, d := range []Dialect{SQLite, Postgres, MySQL, SQLServer} {
		for _, m := range Migrations {
			stmts := m.Statements(d)
			require.NotEmpty(t, stmts, "%s v%d", d.Name, m.Version)
			for _, s := range stmts {
				assert.NotContains(t, s, "%!", "%s v%d: bad format in %q", d.Name, m.Version, s)
			}
		}
	}
	mssql := strings.Join(Migrations[0].Statements(SQLServer), ";")
	assert.Contains(t, mssql, "IF OBJECT_ID(N'fact_transaction', N'U') IS NULL")
}

// dupQuerier fails every Exec with a unique violation.
type dupQuerier struct{ fakeRepo }

var _ Querier = (*dupQuerier)(nil)

func (dupQuerier) Exec(context.Context, string, ...any) (int64, error) {
	return 0, Wrap(func(error) error { return ErrUniqueViolation }, errors.New("2627"))
}

func TestInsertIfAbsent_UniqueViolationMeansPresent(t *testing.T) {
	t.Parallel()

	ok, err := InsertIfAbsent(context.Background(), &dupQuerier{}, SQLServer, "t", []string{"a"}, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWrap(t *testing.T) {
	t.Parallel()
	base := errors.New("driver says no")

	err := Wrap(func(error) error { return ErrConstraint }, base)
	assert.ErrorIs(t, err, ErrConstraint)
	assert.ErrorIs(t, err, base)
	assert.True(t, IsIntegrity(err))

	assert.Same(t, base, Wrap(func(error) error { return nil }, base))
	assert.NoError(t, Wrap(func(error) error { return ErrConstraint }, nil))
}
