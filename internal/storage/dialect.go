package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the SQL differences between backends that the schema,
// the resolvers and the aggregate queries care about.
type Dialect struct {
	Name string

	// Placeholder renders the n-th (1-based) bind parameter. Nil means '?'.
	Placeholder func(n int) string

	// AutoID is the column definition of a surrogate primary key.
	AutoID string
	// Text is the type of short, indexable strings.
	Text string
	// Timestamp is the type of UTC instants.
	Timestamp string

	// HourOf and MonthOf render the hour-of-day (0-23, integer) and the
	// "YYYY-MM" bucket of a timestamp column.
	HourOf  func(col string) string
	MonthOf func(col string) string

	// SumInt wraps an integer SUM so it scans into int64. Nil means no cast.
	SumInt func(expr string) string

	// TimeArg converts a bind value for a Timestamp column. Nil means UTC
	// time.Time.
	TimeArg func(t time.Time) any

	// CreateTable renders an idempotent CREATE TABLE.
	CreateTable func(name, body string) string

	// InsertIgnore renders an insert that does nothing when the row would
	// violate a unique key. Nil means a plain INSERT whose unique violation
	// the caller treats as "already present".
	InsertIgnore func(table string, cols []string) string

	// CurrentRead is appended to a SELECT that must see rows committed by
	// other transactions after this one started.
	CurrentRead string
}

// Rebind rewrites '?' placeholders outside quoted literals to the dialect's
// style.
func (d Dialect) Rebind(query string) string {
	if d.Placeholder == nil || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteString(d.Placeholder(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Time returns the bind value for t in a Timestamp column.
func (d Dialect) Time(t time.Time) any {
	if d.TimeArg != nil {
		return d.TimeArg(t)
	}
	return t.UTC()
}

// Sum renders SUM(expr) defaulting to zero on empty input.
func (d Dialect) Sum(expr string) string {
	s := "COALESCE(SUM(" + expr + "), 0)"
	if d.SumInt != nil {
		return d.SumInt(s)
	}
	return s
}

// Insert renders an insert-if-absent statement for table.
func (d Dialect) Insert(table string, cols []string) string {
	if d.InsertIgnore != nil {
		return d.InsertIgnore(table, cols)
	}
	return plainInsert(table, cols)
}

func plainInsert(table string, cols []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), marks)
}

// InsertIfAbsent inserts one row unless a row with the same unique key
// exists. It reports whether a row was written.
func InsertIfAbsent(ctx context.Context, q Querier, d Dialect, table string, cols []string, args ...any) (bool, error) {
	n, err := q.Exec(ctx, d.Insert(table, cols), args...)
	if errors.Is(err, ErrUniqueViolation) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Built-in dialects.
var (
	SQLite = Dialect{
		Name:      "sqlite",
		AutoID:    "INTEGER PRIMARY KEY",
		Text:      "TEXT",
		Timestamp: "TEXT",
		HourOf: func(col string) string {
			return "CAST(strftime('%H', " + col + ") AS INTEGER)"
		},
		MonthOf: func(col string) string {
			return "strftime('%Y-%m', " + col + ")"
		},
		TimeArg: func(t time.Time) any {
			return t.UTC().Format("2006-01-02 15:04:05")
		},
		CreateTable: createIfNotExists,
		InsertIgnore: func(table string, cols []string) string {
			return plainInsert(table, cols) + " ON CONFLICT DO NOTHING"
		},
	}

	Postgres = Dialect{
		Name:        "postgres",
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		AutoID:      "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY",
		Text:        "TEXT",
		Timestamp:   "TIMESTAMPTZ",
		HourOf: func(col string) string {
			return "CAST(EXTRACT(HOUR FROM " + col + " AT TIME ZONE 'UTC') AS INTEGER)"
		},
		MonthOf: func(col string) string {
			return "to_char(" + col + " AT TIME ZONE 'UTC', 'YYYY-MM')"
		},
		SumInt:      func(s string) string { return "CAST(" + s + " AS BIGINT)" },
		CreateTable: createIfNotExists,
		InsertIgnore: func(table string, cols []string) string {
			return plainInsert(table, cols) + " ON CONFLICT DO NOTHING"
		},
	}

	MySQL = Dialect{
		Name:      "mysql",
		AutoID:    "BIGINT AUTO_INCREMENT PRIMARY KEY",
		Text:      "VARCHAR(255)",
		Timestamp: "DATETIME",
		HourOf:    func(col string) string { return "HOUR(" + col + ")" },
		MonthOf: func(col string) string {
			return "DATE_FORMAT(" + col + ", '%Y-%m')"
		},
		SumInt:      func(s string) string { return "CAST(" + s + " AS SIGNED)" },
		CreateTable: createIfNotExists,
		CurrentRead: " FOR SHARE",
		// A no-op update leaves the affected-row count at zero for an
		// existing key.
		InsertIgnore: func(table string, cols []string) string {
			return plainInsert(table, cols) + " ON DUPLICATE KEY UPDATE " + cols[0] + " = " + cols[0]
		},
	}

	SQLServer = Dialect{
		Name:        "mssql",
		Placeholder: func(n int) string { return "@p" + strconv.Itoa(n) },
		AutoID:      "BIGINT IDENTITY(1,1) PRIMARY KEY",
		Text:        "NVARCHAR(255)",
		Timestamp:   "DATETIME2",
		HourOf:      func(col string) string { return "DATEPART(hour, " + col + ")" },
		MonthOf: func(col string) string {
			return "FORMAT(" + col + ", 'yyyy-MM')"
		},
		CreateTable: func(name, body string) string {
			return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", name, name, body)
		},
	}
)

func createIfNotExists(name, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, body)
}
