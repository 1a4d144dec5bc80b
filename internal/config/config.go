// Package config defines the configuration model for a load run and loads it
// from JSON or YAML files. Environment variables prefixed with ETL_ override
// file values, e.g. ETL_RUNTIME_BATCH_SIZE=5000 or ETL_STORAGE_DB_DSN=...
//
// Example (trimmed):
//
//	job: retail_transactions
//	source:  { kind: file, file: { path: data/transactions.csv } }
//	parser:  { kind: csv, options: { has_header: true, lazy_quotes: true } }
//	storage: { kind: sqlite, db: { dsn: "file:etl.db", auto_migrate: true } }
//	runtime: { loader_workers: 2, batch_size: 10000 }
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when a value is absent from both file and environment.
const (
	DefaultBatchSize     = 10000
	DefaultLoaderWorkers = 1
	DefaultChannelBuffer = 4096
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultDateMin       = "2000-01-01"
	DefaultDateMax       = "2100-01-01"
)

// Pipeline is the top-level configuration of a load run.
type Pipeline struct {
	// Job names the run in logs, metrics and the run ledger.
	Job string `mapstructure:"job" json:"job"`

	Source     Source        `mapstructure:"source" json:"source"`
	Parser     Parser        `mapstructure:"parser" json:"parser"`
	Validation Validation    `mapstructure:"validation" json:"validation"`
	Storage    Storage       `mapstructure:"storage" json:"storage"`
	Runtime    RuntimeConfig `mapstructure:"runtime" json:"runtime"`
	Aggregates Aggregates    `mapstructure:"aggregates" json:"aggregates"`
	Metrics    Metrics       `mapstructure:"metrics" json:"metrics"`
	Log        Log           `mapstructure:"log" json:"log"`
}

// RuntimeConfig controls batching, concurrency and retry.
type RuntimeConfig struct {
	LoaderWorkers int           `mapstructure:"loader_workers" json:"loader_workers"`
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size"`
	ChannelBuffer int           `mapstructure:"channel_buffer" json:"channel_buffer"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`
}

// Source identifies where the raw file comes from.
type Source struct {
	// Kind selects the source implementation: "file" or "http".
	Kind string     `mapstructure:"kind" json:"kind"`
	File SourceFile `mapstructure:"file" json:"file"`
	HTTP SourceHTTP `mapstructure:"http" json:"http"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	Path string `mapstructure:"path" json:"path"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL        string        `mapstructure:"url" json:"url"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
}

// Parser selects how the raw bytes are split into rows.
type Parser struct {
	// Kind selects the parser implementation. Current value: "csv".
	Kind string `mapstructure:"kind" json:"kind"`

	// Options is interpreted by the parser. For CSV:
	//   has_header (bool), comma (string), trim_space (bool),
	//   lazy_quotes (bool), header_map (object), resume_from_line (int)
	Options Options `mapstructure:"options" json:"options"`
}

// Validation tunes the record validator.
type Validation struct {
	// DateLayouts are tried in order; empty means the built-in list.
	DateLayouts []string `mapstructure:"date_layouts" json:"date_layouts"`
	// DateMin and DateMax bound accepted timestamps as [min, max), YYYY-MM-DD.
	DateMin string `mapstructure:"date_min" json:"date_min"`
	DateMax string `mapstructure:"date_max" json:"date_max"`
}

// Range parses DateMin and DateMax.
func (v Validation) Range() (time.Time, time.Time, error) {
	lo, err := time.Parse(time.DateOnly, v.DateMin)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("validation.date_min: %w", err)
	}
	hi, err := time.Parse(time.DateOnly, v.DateMax)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("validation.date_max: %w", err)
	}
	return lo, hi, nil
}

// Storage selects the relational store.
type Storage struct {
	// Kind selects the backend: "sqlite", "postgres", "mysql" or "mssql".
	Kind string   `mapstructure:"kind" json:"kind"`
	DB   DBConfig `mapstructure:"db" json:"db"`
}

// DBConfig configures the connection.
type DBConfig struct {
	// DSN is passed to the backend driver unchanged.
	DSN string `mapstructure:"dsn" json:"dsn"`

	// AutoMigrate applies pending schema migrations before loading.
	AutoMigrate bool `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// Aggregates controls the summary refresh that follows a load.
type Aggregates struct {
	RefreshAfterLoad bool    `mapstructure:"refresh_after_load" json:"refresh_after_load"`
	Publish          Publish `mapstructure:"publish" json:"publish"`
}

// Publish configures where committed snapshots are mirrored.
type Publish struct {
	// Kind is "none" or "redis".
	Kind  string       `mapstructure:"kind" json:"kind"`
	Redis PublishRedis `mapstructure:"redis" json:"redis"`
}

// PublishRedis configures the Redis snapshot mirror.
type PublishRedis struct {
	Addr      string        `mapstructure:"addr" json:"addr"`
	Password  string        `mapstructure:"password" json:"-"`
	DB        int           `mapstructure:"db" json:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" json:"ttl"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string   `mapstructure:"backend" json:"backend"`
	PushgatewayURL string   `mapstructure:"pushgateway_url" json:"pushgateway_url"`
	DatadogAddr    string   `mapstructure:"datadog_addr" json:"datadog_addr"`
	Namespace      string   `mapstructure:"namespace" json:"namespace"`
	Tags           []string `mapstructure:"tags" json:"tags"`
}

// Log configures the logger.
type Log struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Load reads the pipeline from path (JSON or YAML, chosen by extension),
// applies ETL_* environment overrides and fills defaults.
func Load(path string) (Pipeline, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Pipeline{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if p.Parser.Options == nil {
		p.Parser.Options = Options{}
	}
	return p, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("job", "etl_job")
	v.SetDefault("source.kind", "file")
	v.SetDefault("source.http.timeout", 30*time.Second)
	v.SetDefault("source.http.max_retries", 3)
	v.SetDefault("parser.kind", "csv")
	v.SetDefault("validation.date_min", DefaultDateMin)
	v.SetDefault("validation.date_max", DefaultDateMax)
	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.db.dsn", "")
	v.SetDefault("storage.db.auto_migrate", true)
	v.SetDefault("runtime.loader_workers", DefaultLoaderWorkers)
	v.SetDefault("runtime.batch_size", DefaultBatchSize)
	v.SetDefault("runtime.channel_buffer", DefaultChannelBuffer)
	v.SetDefault("runtime.retry_backoff", DefaultRetryBackoff)
	v.SetDefault("aggregates.refresh_after_load", true)
	v.SetDefault("aggregates.publish.kind", "none")
	v.SetDefault("aggregates.publish.redis.key_prefix", "etl")
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.namespace", "etl.")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
