package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a finding worth surfacing that does not block
	// execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "parser.options.comma"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline performs static validation of a Pipeline. It does not
// mutate the pipeline; callers decide whether warnings are fatal.
//
//	p, err := config.Load(path)
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Println(iss)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSource(p.Source)...)
	issues = append(issues, validateParser(p.Parser)...)
	issues = append(issues, validateValidation(p.Validation)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateAggregates(p.Aggregates)...)
	issues = append(issues, validateMetrics(p.Metrics)...)

	return issues
}

func errorAt(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)}
}

func warningAt(path, format string, args ...any) Issue {
	return Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)}
}

func validateSource(s Source) []Issue {
	switch s.Kind {
	case "file":
		if strings.TrimSpace(s.File.Path) == "" {
			return []Issue{errorAt("source.file.path", "file source requires a non-empty path")}
		}
	case "http":
		u, err := url.Parse(s.HTTP.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return []Issue{errorAt("source.http.url", "http source requires an absolute http(s) URL, got %q", s.HTTP.URL)}
		}
		if s.HTTP.MaxRetries < 0 {
			return []Issue{errorAt("source.http.max_retries", "max_retries must not be negative")}
		}
	case "":
		return []Issue{errorAt("source.kind", "source.kind must not be empty")}
	default:
		return []Issue{errorAt("source.kind", "unknown source kind %q; want file or http", s.Kind)}
	}
	return nil
}

func validateParser(p Parser) []Issue {
	var issues []Issue
	if p.Kind != "csv" {
		return append(issues, errorAt("parser.kind", "unsupported parser kind %q; want csv", p.Kind))
	}
	if c := p.Options.String("comma", ","); c != `\t` && len([]rune(c)) != 1 {
		issues = append(issues, errorAt("parser.options.comma", "comma must be a single character, got %q", c))
	}
	if n := p.Options.Int("resume_from_line", 0); n < 0 {
		issues = append(issues, errorAt("parser.options.resume_from_line", "must not be negative"))
	}
	if !p.Options.Bool("has_header", true) && len(p.Options.StringMap("header_map")) > 0 {
		issues = append(issues, warningAt("parser.options.header_map", "header_map is ignored when has_header is false"))
	}
	return issues
}

func validateValidation(v Validation) []Issue {
	lo, hi, err := v.Range()
	if err != nil {
		return []Issue{errorAt("validation", "%v", err)}
	}
	if !lo.Before(hi) {
		return []Issue{errorAt("validation.date_max", "date_max %s must be after date_min %s", v.DateMax, v.DateMin)}
	}
	var issues []Issue
	for i, l := range v.DateLayouts {
		ref := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)
		if _, err := time.Parse(l, ref.Format(l)); err != nil || strings.TrimSpace(l) == "" {
			issues = append(issues, errorAt(fmt.Sprintf("validation.date_layouts[%d]", i), "layout %q does not round-trip", l))
		}
	}
	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	known := map[string]struct{}{
		"postgres": {},
		"mysql":    {},
		"mssql":    {},
		"sqlite":   {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, errorAt("storage.kind", "unknown storage kind %q; want one of postgres, mysql, mssql, sqlite", s.Kind))
	}
	if strings.TrimSpace(s.DB.DSN) == "" {
		issues = append(issues, errorAt("storage.db.dsn", "storage.db.dsn must not be empty"))
	}
	if !s.DB.AutoMigrate {
		issues = append(issues, warningAt("storage.db.auto_migrate", "auto_migrate is off; run `etl migrate` before loading"))
	}
	return issues
}

// validateRuntime validates RuntimeConfig for obvious misconfigurations
// (negative values, zero-sized batches, etc.).
func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.BatchSize <= 0 {
		issues = append(issues, errorAt("runtime.batch_size", "batch_size=%d; must be positive", r.BatchSize))
	}
	if r.LoaderWorkers <= 0 {
		issues = append(issues, errorAt("runtime.loader_workers", "loader_workers must be positive"))
	}
	if r.ChannelBuffer < 0 {
		issues = append(issues, errorAt("runtime.channel_buffer", "channel_buffer must not be negative"))
	}
	if r.RetryBackoff < 0 {
		issues = append(issues, errorAt("runtime.retry_backoff", "retry_backoff must not be negative"))
	}
	return issues
}

func validateAggregates(a Aggregates) []Issue {
	switch a.Publish.Kind {
	case "", "none":
	case "redis":
		if strings.TrimSpace(a.Publish.Redis.Addr) == "" {
			return []Issue{errorAt("aggregates.publish.redis.addr", "redis publisher requires an address")}
		}
	default:
		return []Issue{errorAt("aggregates.publish.kind", "unknown publisher %q; want none or redis", a.Publish.Kind)}
	}
	return nil
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none":
	case "pushgateway":
		if m.PushgatewayURL == "" {
			return []Issue{warningAt("metrics.pushgateway_url", "pushgateway backend without URL; metrics will not be pushed")}
		}
	case "datadog":
	default:
		return []Issue{errorAt("metrics.backend", "unknown metrics backend %q", m.Backend)}
	}
	return nil
}
