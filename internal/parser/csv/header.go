package csv

import "txetl/internal/model"

// HeaderMatch describes how a header row lines up with the canonical layout.
type HeaderMatch struct {
	// Names are the header cells after header_map, aliases and normalization.
	Names []string
	// Mapping is empty when the header cannot be used.
	Mapping Mapping
	// Missing lists canonical columns not found by name.
	Missing []string
	// Extra lists header names that are not canonical columns.
	Extra []string
}

// MatchHeader applies the same rules StreamRecords uses to a header row.
func MatchHeader(header []string, headerMap map[string]string) HeaderMatch {
	names := normalizeHeaders(stripBOM(append([]string(nil), header...)), headerMap)
	m := HeaderMatch{Names: names}

	canonical := make(map[string]bool, model.NumColumns)
	for _, c := range model.Columns {
		canonical[c] = true
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
		if !canonical[n] {
			m.Extra = append(m.Extra, n)
		}
	}
	for _, c := range model.Columns {
		if !present[c] {
			m.Missing = append(m.Missing, c)
		}
	}

	switch {
	case len(m.Missing) == 0:
		m.Mapping = MappingByName
	case len(names) == model.NumColumns:
		m.Mapping = MappingPositional
	}
	return m
}
