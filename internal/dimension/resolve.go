// Package dimension maps free-text categorical values to lookup-table ids,
// creating an entity the first time a canonical name is seen.
//
// Entities are never renamed or deleted. Concurrent callers racing to
// create the same name are reconciled by the table's unique constraint:
// the loser's insert is a no-op and it re-reads the winner's id.
package dimension

import (
	"context"
	"errors"
	"fmt"

	"txetl/internal/model"
	"txetl/internal/normalize"
	"txetl/internal/storage"
)

// ErrEmptyName is returned for a value that is empty after normalization.
var ErrEmptyName = errors.New("dimension: empty name")

// Resolve returns the id of the entity whose canonical name matches name,
// creating it when absent. Spelling variants that normalize to the same key
// resolve to the same id.
func Resolve(ctx context.Context, q storage.Querier, d storage.Dialect, dim model.Dimension, name string) (int64, error) {
	key := normalize.Canonical(name)
	if key == "" {
		return 0, fmt.Errorf("%s: %w", dim, ErrEmptyName)
	}
	return resolveKey(ctx, q, d, dim, key)
}

func resolveKey(ctx context.Context, q storage.Querier, d storage.Dialect, dim model.Dimension, key string) (int64, error) {
	sel := "SELECT id FROM " + dim.Table() + " WHERE canonical_name = ?"

	id, err := selectID(ctx, q, sel, key)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return 0, fmt.Errorf("%s lookup %q: %w", dim, key, err)
	}

	if _, err := storage.InsertIfAbsent(ctx, q, d, dim.Table(), []string{"canonical_name"}, key); err != nil {
		return 0, fmt.Errorf("%s create %q: %w", dim, key, err)
	}

	id, err = selectID(ctx, q, sel+d.CurrentRead, key)
	if err != nil {
		return 0, fmt.Errorf("%s re-read %q: %w", dim, key, err)
	}
	return id, nil
}

func selectID(ctx context.Context, q storage.Querier, sql string, args ...any) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, sql, args...).Scan(&id)
	return id, err
}

// Cache memoizes resolved ids for the lifetime of one unit of work. An id
// learned inside a transaction may be rolled back with it, so a Cache must
// not outlive or be shared across transactions.
type Cache struct {
	q       storage.Querier
	dialect storage.Dialect
	ids     map[model.Dimension]map[string]int64
}

// NewCache returns an empty cache bound to q, usually a storage.Tx.
func NewCache(q storage.Querier, d storage.Dialect) *Cache {
	return &Cache{q: q, dialect: d, ids: make(map[model.Dimension]map[string]int64, len(model.Dimensions))}
}

// Resolve is Resolve with memoization.
func (c *Cache) Resolve(ctx context.Context, dim model.Dimension, name string) (int64, error) {
	key := normalize.Canonical(name)
	if key == "" {
		return 0, fmt.Errorf("%s: %w", dim, ErrEmptyName)
	}
	byName := c.ids[dim]
	if id, ok := byName[key]; ok {
		return id, nil
	}
	id, err := resolveKey(ctx, c.q, c.dialect, dim, key)
	if err != nil {
		return 0, err
	}
	if byName == nil {
		byName = make(map[string]int64)
		c.ids[dim] = byName
	}
	byName[key] = id
	return id, nil
}

// Len reports how many ids are memoized.
func (c *Cache) Len() int {
	n := 0
	for _, m := range c.ids {
		n += len(m)
	}
	return n
}
