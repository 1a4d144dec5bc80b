package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"txetl/internal/model"
)

// Row is one bucket of a summary aggregate.
type Row struct {
	GroupKey string          `json:"group_key"`
	GroupID  *int64          `json:"group_id,omitempty"`
	Count    int64           `json:"transaction_count"`
	Total    decimal.Decimal `json:"total_amount"`
	Average  decimal.Decimal `json:"average_amount"`
	Rank     int             `json:"rank"`
}

// Aggregate is one named summary relation.
type Aggregate struct {
	Name string `json:"name"`
	Rows []Row  `json:"rows"`
}

// Snapshot is the full aggregate set as of one committed refresh. It is
// never mutated after publication.
type Snapshot struct {
	Generation  int64       `json:"generation"`
	RefreshedAt time.Time   `json:"refreshed_at"`
	Aggregates  []Aggregate `json:"aggregates"`
}

// Get returns the rows of the named aggregate, or nil.
func (s *Snapshot) Get(name string) []Row {
	if s == nil {
		return nil
	}
	for _, a := range s.Aggregates {
		if a.Name == name {
			return a.Rows
		}
	}
	return nil
}

// average is total/count rounded half away from zero to whole cents.
func average(totalCents, count int64) int64 {
	if count == 0 {
		return 0
	}
	return decimal.NewFromInt(totalCents).Div(decimal.NewFromInt(count)).Round(0).IntPart()
}

// rowsFrom ranks groups by total descending (competition ranking: ties
// share a rank and the next rank skips) and converts them to Rows. Row
// order follows groups.
func rowsFrom(groups []group) []Row {
	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return groups[order[a]].total > groups[order[b]].total
	})

	ranks := make([]int, len(groups))
	for pos, i := range order {
		if pos > 0 && groups[i].total == groups[order[pos-1]].total {
			ranks[i] = ranks[order[pos-1]]
			continue
		}
		ranks[i] = pos + 1
	}

	out := make([]Row, len(groups))
	for i, g := range groups {
		out[i] = Row{
			GroupKey: g.key,
			GroupID:  g.id,
			Count:    g.count,
			Total:    model.FromCents(g.total),
			Average:  model.FromCents(average(g.total, g.count)),
			Rank:     ranks[i],
		}
	}
	return out
}
