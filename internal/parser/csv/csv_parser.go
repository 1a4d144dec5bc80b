package csv

import (
	"bufio"
	"bytes"
	"io"

	"txetl/internal/config"
)

// Options configures the CSV parser. Zero values are completed by
// OptionsFrom.
type Options struct {
	// HasHeader indicates whether the first row contains column headers.
	HasHeader bool

	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// TrimSpace trims leading/trailing spaces from each field value.
	TrimSpace bool

	// LazyQuotes lets a quote appear in an unquoted field and a non-doubled
	// quote appear in a quoted field.
	LazyQuotes bool

	// HeaderMap maps source header names to canonical column names. Keys
	// are compared after header normalization, so "Txn ID" and "txn_id"
	// are the same key.
	HeaderMap map[string]string

	// ResumeFromLine skips records that start before this line. Skipped
	// records are neither emitted nor counted as read.
	ResumeFromLine int

	// ScrubFrom, when set, is replaced by ScrubTo in the byte stream before
	// CSV decoding. Use it for a known broken sequence in a feed.
	ScrubFrom, ScrubTo string
}

// OptionsFrom reads parser.options.
func OptionsFrom(o config.Options) Options {
	return Options{
		HasHeader:      o.Bool("has_header", true),
		Comma:          o.Rune("comma", ','),
		TrimSpace:      o.Bool("trim_space", true),
		LazyQuotes:     o.Bool("lazy_quotes", false),
		HeaderMap:      o.StringMap("header_map"),
		ResumeFromLine: o.Int("resume_from_line", 0),
		ScrubFrom:      o.String("scrub_from", ""),
		ScrubTo:        o.String("scrub_to", ""),
	}
}

// utf8BOM is stripped from the first cell of the file if present.
const utf8BOM = "\uFEFF"

// scrubReader replaces every occurrence of pat with repl while streaming.
// It holds back len(pat)-1 bytes of each chunk so a match that straddles a
// read boundary is still seen.
type scrubReader struct {
	src  *bufio.Reader
	pat  []byte
	repl []byte
	tail []byte
	out  bytes.Buffer
	done bool
}

func newScrubReader(r io.Reader, pat, repl []byte) *scrubReader {
	return &scrubReader{src: bufio.NewReaderSize(r, 64*1024), pat: pat, repl: repl}
}

func (s *scrubReader) Read(p []byte) (int, error) {
	for s.out.Len() == 0 {
		if s.done {
			return 0, io.EOF
		}
		if err := s.fill(); err != nil {
			return 0, err
		}
	}
	return s.out.Read(p)
}

func (s *scrubReader) fill() error {
	chunk := make([]byte, 64*1024)
	n, err := s.src.Read(chunk)
	if err != nil && err != io.EOF {
		return err
	}

	block := append(s.tail, chunk[:n]...)
	if len(s.pat) == 0 {
		s.out.Write(block)
		s.tail = nil
		s.done = err == io.EOF
		return nil
	}

	if err == io.EOF {
		s.out.Write(bytes.ReplaceAll(block, s.pat, s.repl))
		s.tail = nil
		s.done = true
		return nil
	}

	// A match starting before cut lies wholly inside block. Bytes from
	// cut on may begin a match that the next chunk completes, so they are
	// carried over unreplaced.
	cut := len(block) - (len(s.pat) - 1)
	i := 0
	for i < cut {
		j := bytes.Index(block[i:], s.pat)
		if j < 0 || i+j >= cut {
			s.out.Write(block[i:cut])
			i = cut
			break
		}
		s.out.Write(block[i : i+j])
		s.out.Write(s.repl)
		i += j + len(s.pat)
	}
	s.tail = append([]byte(nil), block[min(i, len(block)):]...)
	return nil
}
