// Package datasource opens the byte stream a run reads from.
package datasource

import (
	"context"
	"encoding/hex"
	"io"

	"github.com/zeebo/xxh3"
)

// Source is where input bytes come from.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source in logs and the run ledger.
	Name() string
}

// HashingReader fingerprints a stream as it is consumed, so the input is
// read once.
type HashingReader struct {
	rc io.ReadCloser
	h  *xxh3.Hasher
	n  int64
}

// Fingerprint wraps rc. Closing the HashingReader closes rc.
func Fingerprint(rc io.ReadCloser) *HashingReader {
	return &HashingReader{rc: rc, h: xxh3.New()}
}

func (r *HashingReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if n > 0 {
		_, _ = r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

func (r *HashingReader) Close() error { return r.rc.Close() }

// Sum returns the hex xxh3-128 digest of the bytes read so far.
func (r *HashingReader) Sum() string {
	s := r.h.Sum128().Bytes()
	return hex.EncodeToString(s[:])
}

// Bytes returns how many bytes have been read.
func (r *HashingReader) Bytes() int64 { return r.n }
