// Package probe samples the head of a source and suggests parser and
// validation settings for it: the delimiter, whether the first row is a
// header, how the header maps onto the canonical columns, and the timestamp
// layout that matches most sampled values.
package probe

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"txetl/internal/config"
	"txetl/internal/datasource"
	"txetl/internal/model"
	csvparser "txetl/internal/parser/csv"
	"txetl/internal/validate"
)

// Defaults for Options.
const (
	DefaultMaxBytes = 256 << 10
	DefaultMaxRows  = 1000
)

// Options control sampling.
type Options struct {
	// MaxBytes read from the start of the source.
	MaxBytes int
	// MaxRows inspected after the header.
	MaxRows int
	// Delimiter forces a delimiter; zero means detect.
	Delimiter rune
	// HeaderMap is applied before matching, as in parser.options.header_map.
	HeaderMap map[string]string
}

// Result is the probe's finding for one source.
type Result struct {
	Source      string   `json:"source"`
	SampleBytes int      `json:"sample_bytes"`
	SampledRows int      `json:"sampled_rows"`
	Delimiter   string   `json:"delimiter"`
	HasHeader   bool     `json:"has_header"`
	Header      []string `json:"header,omitempty"`
	Mapping     string   `json:"column_mapping"`
	Missing     []string `json:"missing_columns,omitempty"`
	Extra       []string `json:"extra_columns,omitempty"`
	// WidthMismatches counts sampled rows whose width differs from the header.
	WidthMismatches int `json:"width_mismatches"`

	TimestampLayout  string `json:"timestamp_layout,omitempty"`
	TimestampMatches int    `json:"timestamp_matches"`

	// ParserOptions is a parser.options block that reads this source.
	ParserOptions config.Options `json:"parser_options"`
	// DateLayouts is a validation.date_layouts value, set when the detected
	// layout is not one of the built-in defaults.
	DateLayouts []string `json:"date_layouts,omitempty"`
}

// ErrEmpty is returned when the sample holds no complete line.
var ErrEmpty = errors.New("probe: empty sample")

// Probe reads up to opt.MaxBytes from src and inspects them.
func Probe(ctx context.Context, src datasource.Source, opt Options) (Result, error) {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("probe %s: %w", src.Name(), err)
	}
	defer rc.Close()

	sample, err := io.ReadAll(io.LimitReader(rc, int64(opt.MaxBytes)))
	if err != nil {
		return Result{}, fmt.Errorf("probe %s: read sample: %w", src.Name(), err)
	}
	res, err := Sample(sample, opt)
	res.Source = src.Name()
	return res, err
}

// Sample inspects an in-memory sample. When the sample fills
// opt.MaxBytes its trailing partial line is ignored.
func Sample(sample []byte, opt Options) (Result, error) {
	if opt.MaxRows <= 0 {
		opt.MaxRows = DefaultMaxRows
	}
	if opt.MaxBytes > 0 && len(sample) >= opt.MaxBytes {
		if i := bytes.LastIndexByte(sample, '\n'); i >= 0 {
			sample = sample[:i+1]
		}
	}
	res := Result{SampleBytes: len(sample)}
	if len(bytes.TrimSpace(sample)) == 0 {
		return res, ErrEmpty
	}

	delim := opt.Delimiter
	if delim == 0 {
		delim = detectDelimiter(sample)
	}
	res.Delimiter = string(delim)

	rows := readRows(sample, delim, opt.MaxRows+1)
	if len(rows) == 0 {
		return res, ErrEmpty
	}

	first := rows[0]
	match := csvparser.MatchHeader(first, opt.HeaderMap)
	res.HasHeader = match.Mapping == csvparser.MappingByName || !looksLikeData(first)

	data := rows
	width := model.NumColumns
	if res.HasHeader {
		data = rows[1:]
		width = len(first)
		res.Header = first
		res.Mapping = string(match.Mapping)
		res.Missing = match.Missing
		res.Extra = match.Extra
		if match.Mapping == "" {
			res.Mapping = "unusable"
		}
	} else {
		res.Mapping = string(csvparser.MappingPositional)
	}
	res.SampledRows = len(data)

	tsCol := model.ColTimestamp
	if res.HasHeader && match.Mapping == csvparser.MappingByName {
		for i, n := range match.Names {
			if n == model.Columns[model.ColTimestamp] {
				tsCol = i
				break
			}
		}
	}

	var stamps []string
	for _, r := range data {
		if len(r) != width {
			res.WidthMismatches++
			continue
		}
		if tsCol < len(r) {
			if v := strings.TrimSpace(r[tsCol]); v != "" {
				stamps = append(stamps, v)
			}
		}
	}
	res.TimestampLayout, res.TimestampMatches = selectBestLayout(stamps, candidateLayouts, layoutPreference)

	res.ParserOptions = config.Options{
		"has_header":  res.HasHeader,
		"comma":       comma(delim),
		"trim_space":  true,
		"lazy_quotes": true,
	}
	if len(opt.HeaderMap) > 0 {
		res.ParserOptions["header_map"] = opt.HeaderMap
	}
	if res.TimestampLayout != "" && !isDefaultLayout(res.TimestampLayout) {
		res.DateLayouts = append([]string{res.TimestampLayout}, validate.DefaultLayouts...)
	}
	return res, nil
}

var delimiters = []rune{',', ';', '\t', '|'}

// detectDelimiter picks the candidate that splits the most lines into the
// same, largest width as the first line.
func detectDelimiter(sample []byte) rune {
	best, bestScore := ',', -1
	for _, d := range delimiters {
		rows := readRows(sample, d, 50)
		if len(rows) == 0 || len(rows[0]) < 2 {
			continue
		}
		score := 0
		for _, r := range rows {
			if len(r) == len(rows[0]) {
				score += len(r)
			}
		}
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

// readRows reads up to max records, skipping lines the reader rejects.
func readRows(sample []byte, delim rune, max int) [][]string {
	r := csv.NewReader(bytes.NewReader(sample))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var rows [][]string
	for len(rows) < max {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(rec) == 0 {
			continue
		}
		rows = append(rows, rec)
	}
	return rows
}

// looksLikeData reports whether a row reads as a transaction rather than a
// header: a numeric id and a parseable timestamp in canonical positions.
func looksLikeData(row []string) bool {
	if len(row) != model.NumColumns {
		return false
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(row[model.ColTransactionID]), 10, 64); err != nil {
		return false
	}
	layout, _ := selectBestLayout([]string{strings.TrimSpace(row[model.ColTimestamp])}, candidateLayouts, layoutPreference)
	return layout != ""
}

func comma(d rune) string {
	if d == '\t' {
		return `\t`
	}
	return string(d)
}

// candidateLayouts are the built-in validator layouts plus common exports.
var candidateLayouts = append(append([]string(nil), validate.DefaultLayouts...),
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006/01/02 15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"02/01/2006",
	"2006/01/02",
	"2 Jan 2006",
	"02-Jan-2006",
	"20060102",
)

func isDefaultLayout(l string) bool {
	for _, d := range validate.DefaultLayouts {
		if d == l {
			return true
		}
	}
	return false
}

// layoutPreference breaks ties between layouts that match the same number
// of samples. ISO forms win over day-first, which wins over month-first.
func layoutPreference(layout string) int {
	switch layout {
	case time.RFC3339Nano, time.RFC3339:
		return 4
	case "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02", "2006/01/02", "20060102":
		return 3
	case "02.01.2006", "02/01/2006", "02/01/2006 15:04:05", "2 Jan 2006", "02-Jan-2006":
		return 2
	case "01/02/2006", "01/02/2006 15:04", "01/02/2006 15:04:05":
		return 1
	default:
		return 0
	}
}

// selectBestLayout scores each layout by how many samples it parses and
// returns the best with its score. Ties go to the higher preference, then
// to the earlier layout. It returns "" when nothing matches.
func selectBestLayout(samples, layouts []string, pref func(string) int) (string, int) {
	if len(samples) == 0 {
		return "", 0
	}
	bestIdx, bestScore, bestPref := -1, 0, -1
	for i, lay := range layouts {
		score := 0
		for _, s := range samples {
			if _, err := time.Parse(lay, s); err == nil {
				score++
			}
		}
		if score == 0 {
			continue
		}
		p := pref(lay)
		if score > bestScore || (score == bestScore && p > bestPref) {
			bestIdx, bestScore, bestPref = i, score, p
		}
	}
	if bestIdx < 0 {
		return "", 0
	}
	return layouts[bestIdx], bestScore
}
