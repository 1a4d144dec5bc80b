package datasource

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	sum := func(s string) (string, int64) {
		r := Fingerprint(io.NopCloser(strings.NewReader(s)))
		_, err := io.Copy(io.Discard, r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		return r.Sum(), r.Bytes()
	}

	a, n := sum("id,amount\n1,2\n")
	b, _ := sum("id,amount\n1,2\n")
	c, _ := sum("id,amount\n1,3\n")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
	assert.EqualValues(t, 14, n)
}
