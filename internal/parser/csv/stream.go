// Package csv turns a delimited byte stream into model.RawRecords. It never
// buffers the whole input and never fails the run for a single bad line: a
// line that cannot be decoded or has the wrong field count is emitted with
// Malformed set so the validator can count it.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"txetl/internal/model"
	"txetl/internal/normalize"
)

// Mapping describes how source columns were matched to canonical columns.
type Mapping string

const (
	MappingByName     Mapping = "by_name"
	MappingPositional Mapping = "positional"
)

// Stats summarizes one stream.
type Stats struct {
	Records int // records emitted, malformed included
	Resumed int // records skipped by ResumeFromLine
	Mapping Mapping
}

// ErrHeader reports a header that cannot be matched to the canonical layout.
var ErrHeader = errors.New("csv: unusable header")

// StreamRecords reads r and sends one RawRecord per data record to out,
// fields in canonical column order.
//
// Behavior:
//   - With a header, columns are matched by name when every canonical name
//     is present (after HeaderMap and normalization); otherwise a header
//     with exactly the canonical column count is mapped by position, and
//     any other header is rejected with ErrHeader.
//   - Without a header, fields are positional in canonical order.
//   - Line numbers are 1-based source lines where the record starts.
//
// Returns nil at EOF, ctx.Err() on cancellation, or a fatal read error. The
// caller closes out.
func StreamRecords(ctx context.Context, r io.Reader, opt Options, out chan<- model.RawRecord) (Stats, error) {
	var st Stats

	if opt.ScrubFrom != "" {
		r = newScrubReader(r, []byte(opt.ScrubFrom), []byte(opt.ScrubTo))
	}

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	// Width is checked here so a short row becomes a Malformed record
	// instead of a reader error.
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	expected := model.NumColumns
	index := positional()
	st.Mapping = MappingPositional
	first := true

	if opt.HasHeader {
		h, err := cr.Read()
		if err == io.EOF {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("read csv header: %w", err)
		}
		first = false
		names := normalizeHeaders(stripBOM(h), opt.HeaderMap)
		expected = len(names)
		if ix, ok := byName(names); ok {
			index, st.Mapping = ix, MappingByName
		} else if len(names) != model.NumColumns {
			return st, fmt.Errorf("%w: %d columns %v; need the named columns %v or exactly %d columns",
				ErrHeader, len(names), names, model.Columns, model.NumColumns)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return st, nil
		}

		var raw model.RawRecord
		switch {
		case err != nil:
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return st, fmt.Errorf("read csv: %w", err)
			}
			raw = model.RawRecord{Line: pe.StartLine, Fields: rec, Malformed: true, Cause: err}
		default:
			line, _ := cr.FieldPos(0)
			if first {
				rec = stripBOM(rec)
				first = false
			}
			if len(rec) != expected {
				raw = model.RawRecord{Line: line, Fields: rec, Malformed: true,
					Cause: fmt.Errorf("incorrect number of fields: expected %d, got %d", expected, len(rec))}
			} else {
				raw = model.RawRecord{Line: line, Fields: project(rec, index, opt.TrimSpace)}
			}
		}

		if raw.Line < opt.ResumeFromLine {
			st.Resumed++
			continue
		}

		select {
		case out <- raw:
			st.Records++
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func positional() [model.NumColumns]int {
	var ix [model.NumColumns]int
	for i := range ix {
		ix[i] = i
	}
	return ix
}

// byName returns, for each canonical column, its index in names.
func byName(names []string) ([model.NumColumns]int, bool) {
	pos := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := pos[n]; !dup {
			pos[n] = i
		}
	}
	var ix [model.NumColumns]int
	for c, name := range model.Columns {
		i, ok := pos[name]
		if !ok {
			return ix, false
		}
		ix[c] = i
	}
	return ix, true
}

func project(rec []string, index [model.NumColumns]int, trim bool) []string {
	fields := make([]string, model.NumColumns)
	for c, i := range index {
		v := rec[i]
		if trim {
			v = strings.TrimSpace(v)
		}
		fields[c] = v
	}
	return fields
}

// aliases are common spellings of canonical column names. header_map
// entries take precedence.
var aliases = map[string]string{
	"id":                 "transaction_id",
	"txn_id":             "transaction_id",
	"transaction":        "transaction_id",
	"date":               "timestamp",
	"datetime":           "timestamp",
	"transaction_date":   "timestamp",
	"occurred_at":        "timestamp",
	"sex":                "gender",
	"marital":            "marital_status",
	"customer_tier":      "tier",
	"employment_status":  "employment",
	"payment_channel":    "payment_method",
	"referral_flag":      "referral",
	"is_referral":        "referral",
	"transaction_amount": "amount",
}

// normalizeHeaders produces canonical header names using headerMap (when
// provided), the built-in aliases and normalize.HeaderName.
func normalizeHeaders(h []string, headerMap map[string]string) []string {
	mapped := make(map[string]string, len(aliases)+len(headerMap))
	for k, v := range aliases {
		mapped[k] = v
	}
	for k, v := range headerMap {
		mapped[normalize.HeaderName(k)] = normalize.HeaderName(v)
	}
	res := make([]string, len(h))
	for i, col := range h {
		name := normalize.HeaderName(col)
		if m, ok := mapped[name]; ok {
			name = m
		}
		res[i] = name
	}
	return res
}
