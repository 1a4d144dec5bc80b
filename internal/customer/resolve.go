// Package customer resolves demographic tuples to customer_profile ids.
//
// Identity is structural: the source file carries no customer identifier,
// so a profile is the (gender, age, marital status) triple. Two different
// people who share all three collapse into one profile. Reports built on
// customer_id therefore count demographic cohorts, not individuals. Nothing
// here tries to disambiguate them with synthetic ids.
package customer

import (
	"context"
	"errors"
	"fmt"

	"txetl/internal/model"
	"txetl/internal/storage"
)

// ErrInvalidProfile is returned for a key outside the stored domain.
var ErrInvalidProfile = errors.New("customer: invalid profile")

var profileCols = []string{"gender", "age", "marital_status"}

const selectProfile = "SELECT id FROM customer_profile WHERE gender = ? AND age = ? AND marital_status = ?"

// Resolve returns the id of the profile matching k, creating it when
// absent. Repeated calls with an equal key return the same id.
func Resolve(ctx context.Context, q storage.Querier, d storage.Dialect, k model.ProfileKey) (int64, error) {
	if err := check(k); err != nil {
		return 0, err
	}
	args := []any{string(k.Gender), k.Age, string(k.Marital)}

	var id int64
	err := q.QueryRow(ctx, selectProfile, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return 0, fmt.Errorf("customer lookup %v: %w", k, err)
	}

	if _, err := storage.InsertIfAbsent(ctx, q, d, "customer_profile", profileCols, args...); err != nil {
		return 0, fmt.Errorf("customer create %v: %w", k, err)
	}
	if err := q.QueryRow(ctx, selectProfile+d.CurrentRead, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("customer re-read %v: %w", k, err)
	}
	return id, nil
}

func check(k model.ProfileKey) error {
	switch k.Gender {
	case model.GenderMale, model.GenderFemale, model.GenderUnknown:
	default:
		return fmt.Errorf("%w: gender %q", ErrInvalidProfile, k.Gender)
	}
	switch k.Marital {
	case model.MaritalSingle, model.MaritalMarried:
	default:
		return fmt.Errorf("%w: marital status %q", ErrInvalidProfile, k.Marital)
	}
	if k.Age <= 0 || k.Age >= 120 {
		return fmt.Errorf("%w: age %d", ErrInvalidProfile, k.Age)
	}
	return nil
}

// Cache memoizes profile ids for one unit of work. Like dimension.Cache it
// must not be shared across transactions.
type Cache struct {
	q       storage.Querier
	dialect storage.Dialect
	ids     map[model.ProfileKey]int64
}

// NewCache returns an empty cache bound to q.
func NewCache(q storage.Querier, d storage.Dialect) *Cache {
	return &Cache{q: q, dialect: d, ids: make(map[model.ProfileKey]int64)}
}

// Resolve is Resolve with memoization.
func (c *Cache) Resolve(ctx context.Context, k model.ProfileKey) (int64, error) {
	if id, ok := c.ids[k]; ok {
		return id, nil
	}
	id, err := Resolve(ctx, c.q, c.dialect, k)
	if err != nil {
		return 0, err
	}
	c.ids[k] = id
	return id, nil
}
