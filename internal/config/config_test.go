package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "pipeline.yaml", `
job: retail_transactions
source:
  kind: file
  file: { path: testdata/transactions.csv }
parser:
  kind: csv
  options:
    has_header: true
    comma: ";"
    header_map: { "Txn Id": transaction_id }
validation:
  date_min: "2010-01-01"
storage:
  kind: postgres
  db: { dsn: "postgresql://etl@localhost/etl", auto_migrate: false }
runtime:
  loader_workers: 4
  batch_size: 2500
  retry_backoff: 2s
aggregates:
  publish: { kind: redis, redis: { addr: "localhost:6379" } }
`)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "retail_transactions", p.Job)
	assert.Equal(t, "testdata/transactions.csv", p.Source.File.Path)
	assert.Equal(t, ';', p.Parser.Options.Rune("comma", ','))
	assert.Equal(t, "transaction_id", p.Parser.Options.StringMap("header_map")["txn id"])
	assert.Equal(t, "2010-01-01", p.Validation.DateMin)
	assert.Equal(t, DefaultDateMax, p.Validation.DateMax)
	assert.Equal(t, "postgres", p.Storage.Kind)
	assert.False(t, p.Storage.DB.AutoMigrate)
	assert.Equal(t, 4, p.Runtime.LoaderWorkers)
	assert.Equal(t, 2500, p.Runtime.BatchSize)
	assert.Equal(t, DefaultChannelBuffer, p.Runtime.ChannelBuffer)
	assert.Equal(t, 2*time.Second, p.Runtime.RetryBackoff)
	assert.True(t, p.Aggregates.RefreshAfterLoad)
	assert.Equal(t, "redis", p.Aggregates.Publish.Kind)
	assert.Equal(t, "etl", p.Aggregates.Publish.Redis.KeyPrefix)
}

func TestLoad_JSONDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "pipeline.json", `{
	  "job": "j",
	  "source": { "kind": "file", "file": { "path": "in.csv" } },
	  "storage": { "kind": "sqlite", "db": { "dsn": "file:etl.db" } }
	}`)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "csv", p.Parser.Kind)
	assert.NotNil(t, p.Parser.Options)
	assert.True(t, p.Storage.DB.AutoMigrate)
	assert.Equal(t, DefaultBatchSize, p.Runtime.BatchSize)
	assert.Equal(t, DefaultLoaderWorkers, p.Runtime.LoaderWorkers)
	assert.Equal(t, DefaultRetryBackoff, p.Runtime.RetryBackoff)
	assert.Equal(t, "none", p.Metrics.Backend)
	assert.Equal(t, "info", p.Log.Level)
	assert.Empty(t, ValidatePipeline(p))
}

// Not parallel: mutates the process environment.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ETL_RUNTIME_BATCH_SIZE", "5000")
	t.Setenv("ETL_STORAGE_DB_DSN", "file:override.db")

	path := writeConfig(t, "pipeline.yaml", "job: j\nruntime: { batch_size: 10 }\n")
	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, p.Runtime.BatchSize)
	assert.Equal(t, "file:override.db", p.Storage.DB.DSN)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidation_Range(t *testing.T) {
	t.Parallel()

	lo, hi, err := Validation{DateMin: "2000-01-01", DateMax: "2100-01-01"}.Range()
	require.NoError(t, err)
	assert.Equal(t, 2000, lo.Year())
	assert.Equal(t, 2100, hi.Year())

	_, _, err = Validation{DateMin: "yesterday", DateMax: "2100-01-01"}.Range()
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------
// Options helper tests (hermetic).
// -----------------------------------------------------------------------------

func TestOptions_String_Bool_Int_Rune_DefaultsAndCoercion(t *testing.T) {
	t.Parallel()

	o := Options{
		"s":  "hello",
		"b":  true,
		"bs": "false", // environment overrides arrive as strings
		"i":  float64(42),
		"iy": 7, // YAML ints
		"is": "12",
		"r":  ",",
		"t":  `\t`,
	}

	if got := o.String("s", "def"); got != "hello" {
		t.Fatalf("String(s) = %q, want hello", got)
	}
	if got := o.String("missing", "def"); got != "def" {
		t.Fatalf("String(missing) = %q, want def", got)
	}
	if got := o.Bool("b", false); got != true {
		t.Fatalf("Bool(b) = %v, want true", got)
	}
	if got := o.Bool("bs", true); got != false {
		t.Fatalf("Bool(bs) = %v, want false", got)
	}
	if got := o.Int("i", 0); got != 42 {
		t.Fatalf("Int(i) = %d, want 42", got)
	}
	if got := o.Int("iy", 0); got != 7 {
		t.Fatalf("Int(iy) = %d, want 7", got)
	}
	if got := o.Int("is", 0); got != 12 {
		t.Fatalf("Int(is) = %d, want 12", got)
	}
	if got := o.Int("missing", 7); got != 7 {
		t.Fatalf("Int(missing) = %d, want 7", got)
	}
	if got := o.Rune("r", ';'); got != ',' {
		t.Fatalf("Rune(r) = %q, want ','", got)
	}
	if got := o.Rune("t", ','); got != '\t' {
		t.Fatalf("Rune(t) = %q, want tab", got)
	}

	// Rune picks the first rune, not the first byte, of a multi-byte value.
	o["r2"] = "ž"
	r := o.Rune("r2", 'x')
	if r == 0 || !utf8.ValidRune(r) || string(r) != "ž" {
		t.Fatalf("Rune(r2) = %#U, want ž", r)
	}
}

func TestOptions_CaseInsensitiveKeys(t *testing.T) {
	t.Parallel()

	o := Options{"has_header": false}
	if o.Bool("HAS_HEADER", true) {
		t.Fatal("lookup should fall back to the lower-cased key")
	}
}

func TestOptions_StringMap_StringSlice(t *testing.T) {
	t.Parallel()

	o := Options{
		"m":  map[string]any{"A": "a", "B": "b", "X": 1}, // non-string value ignored
		"s1": []any{"alpha", "beta", 3},
		"s2": []string{"gamma", "delta"},
		"s3": "x, y,,z",
	}

	assert.Equal(t, map[string]string{"A": "a", "B": "b"}, o.StringMap("m"))
	assert.Empty(t, o.StringMap("missing"))
	assert.Equal(t, []string{"alpha", "beta"}, o.StringSlice("s1"))
	assert.Equal(t, []string{"gamma", "delta"}, o.StringSlice("s2"))
	assert.Equal(t, []string{"x", "y", "z"}, o.StringSlice("s3"))
	assert.Nil(t, o.StringSlice("missing"))
}
