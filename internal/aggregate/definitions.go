package aggregate

import (
	"context"
	"fmt"
	"sort"

	"txetl/internal/model"
	"txetl/internal/storage"
)

// group is one computed bucket before ranking, amounts in cents.
type group struct {
	key   string
	id    *int64
	count int64
	total int64
}

// definition computes one aggregate from the fact table.
type definition struct {
	name    string
	compute func(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error)
}

// definitions is the fixed aggregate set, in model.AggregateNames order.
var definitions = []definition{
	{model.AggByRegion, byDimension(model.DimRegion)},
	{model.AggByTier, byDimension(model.DimTier)},
	{model.AggByEmployment, byDimension(model.DimEmployment)},
	{model.AggByPaymentMethod, byDimension(model.DimPaymentMethod)},
	{model.AggByGenderMarital, byGenderMarital},
	{model.AggByReferral, byReferral},
	{model.AggByHour, byHour},
	{model.AggByAgeBand, byAgeBand},
	{model.AggByMonth, byMonth},
}

// byDimension yields one row per entity, including entities no fact uses.
func byDimension(dim model.Dimension) func(context.Context, storage.Querier, storage.Dialect) ([]group, error) {
	return func(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error) {
		sql := fmt.Sprintf(
			"SELECT e.id, e.canonical_name, COUNT(f.id), %s FROM %s e LEFT JOIN fact_transaction f ON f.%s = e.id "+
				"GROUP BY e.id, e.canonical_name ORDER BY e.id",
			d.Sum("f.amount_cents"), dim.Table(), dim.FactColumn())
		rows, err := q.Query(ctx, sql)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []group
		for rows.Next() {
			var (
				g  group
				id int64
			)
			if err := rows.Scan(&id, &g.key, &g.count, &g.total); err != nil {
				return nil, err
			}
			g.id = &id
			out = append(out, g)
		}
		return out, rows.Err()
	}
}

// scanKeyed runs a "key, count, sum" query and indexes it by key.
func scanKeyed(ctx context.Context, q storage.Querier, sql string, key func(raw any) (string, error), newKey func() any) (map[string]group, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]group)
	for rows.Next() {
		raw := newKey()
		var g group
		if err := rows.Scan(raw, &g.count, &g.total); err != nil {
			return nil, err
		}
		if g.key, err = key(raw); err != nil {
			return nil, err
		}
		prev := out[g.key]
		prev.key = g.key
		prev.count += g.count
		prev.total += g.total
		out[g.key] = prev
	}
	return out, rows.Err()
}

func intKey() any    { return new(int64) }
func stringKey() any { return new(string) }

func fromString(raw any) (string, error) { return *raw.(*string), nil }

// fill returns a row for every key in keys, zero when absent from got.
func fill(keys []string, got map[string]group) []group {
	out := make([]group, len(keys))
	for i, k := range keys {
		g := got[k]
		g.key = k
		out[i] = g
	}
	return out
}

func byGenderMarital(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error) {
	rows, err := q.Query(ctx, fmt.Sprintf(
		"SELECT c.gender, c.marital_status, COUNT(*), %s FROM fact_transaction f "+
			"JOIN customer_profile c ON c.id = f.customer_id GROUP BY c.gender, c.marital_status",
		d.Sum("f.amount_cents")))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	got := make(map[string]group)
	for rows.Next() {
		var (
			gender, marital string
			g               group
		)
		if err := rows.Scan(&gender, &marital, &g.count, &g.total); err != nil {
			return nil, err
		}
		got[genderMaritalKey(model.Gender(gender), model.MaritalStatus(marital))] = g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(model.Genders)*len(model.MaritalStatuses))
	for _, g := range model.Genders {
		for _, m := range model.MaritalStatuses {
			keys = append(keys, genderMaritalKey(g, m))
		}
	}
	return fill(keys, got), nil
}

func genderMaritalKey(g model.Gender, m model.MaritalStatus) string {
	return string(g) + "/" + string(m)
}

// Referral bucket keys.
const (
	ReferralNo  = "no"
	ReferralYes = "yes"
)

func byReferral(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error) {
	got, err := scanKeyed(ctx, q, fmt.Sprintf(
		"SELECT is_referral, COUNT(*), %s FROM fact_transaction GROUP BY is_referral", d.Sum("amount_cents")),
		func(raw any) (string, error) {
			if *raw.(*int64) == 1 {
				return ReferralYes, nil
			}
			return ReferralNo, nil
		}, intKey)
	if err != nil {
		return nil, err
	}
	return fill([]string{ReferralNo, ReferralYes}, got), nil
}

func byHour(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error) {
	hour := d.HourOf("occurred_at")
	got, err := scanKeyed(ctx, q, fmt.Sprintf(
		"SELECT %s, COUNT(*), %s FROM fact_transaction GROUP BY %s", hour, d.Sum("amount_cents"), hour),
		func(raw any) (string, error) { return hourKey(int(*raw.(*int64))), nil }, intKey)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 24)
	for h := range keys {
		keys[h] = hourKey(h)
	}
	return fill(keys, got), nil
}

func hourKey(h int) string { return fmt.Sprintf("%02d", h) }

// AgeBand is one half-open age interval [Min, Max). Max 0 means unbounded.
type AgeBand struct {
	Label    string
	Min, Max int
}

// AgeBands partition every valid age.
var AgeBands = []AgeBand{
	{"18-24", 0, 25},
	{"25-34", 25, 35},
	{"35-44", 35, 45},
	{"45-54", 45, 55},
	{"55-64", 55, 65},
	{"65+", 65, 0},
}

// BandOf returns the label of the band containing age.
func BandOf(age int) string {
	for _, b := range AgeBands {
		if age >= b.Min && (b.Max == 0 || age < b.Max) {
			return b.Label
		}
	}
	return AgeBands[0].Label
}

// byAgeBand groups by exact age in SQL and folds ages into bands here; the
// age domain is small.
func byAgeBand(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error) {
	got, err := scanKeyed(ctx, q, fmt.Sprintf(
		"SELECT c.age, COUNT(*), %s FROM fact_transaction f JOIN customer_profile c ON c.id = f.customer_id GROUP BY c.age",
		d.Sum("f.amount_cents")),
		func(raw any) (string, error) { return BandOf(int(*raw.(*int64))), nil }, intKey)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(AgeBands))
	for i, b := range AgeBands {
		keys[i] = b.Label
	}
	return fill(keys, got), nil
}

// byMonth has one row per calendar month with facts, oldest first.
func byMonth(ctx context.Context, q storage.Querier, d storage.Dialect) ([]group, error) {
	month := d.MonthOf("occurred_at")
	got, err := scanKeyed(ctx, q, fmt.Sprintf(
		"SELECT %s, COUNT(*), %s FROM fact_transaction GROUP BY %s", month, d.Sum("amount_cents"), month),
		fromString, stringKey)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fill(keys, got), nil
}
