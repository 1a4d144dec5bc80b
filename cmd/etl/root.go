package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"txetl/internal/config"
	"txetl/internal/logging"
	"txetl/internal/metrics"
)

// globalFlags are the persistent flags shared by every subcommand. A
// non-empty flag value wins over the config file and ETL_* environment.
type globalFlags struct {
	configPath     string
	logLevel       string
	metricsBackend string
	pushgatewayURL string
	datadogAddr    string
}

// NewRootCommand builds the etl command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	rc := &cobra.Command{
		Use:   "etl",
		Short: "Load raw transaction files into a normalized warehouse",
		Long: `etl parses a raw transaction file, validates every row, resolves
dimensions and customer profiles, loads facts in batches and refreshes the
summary aggregates. Configuration comes from --config (JSON or YAML) with
ETL_* environment overrides.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rc.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "pipeline config file (JSON or YAML)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&g.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog")
	pf.StringVar(&g.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL")
	pf.StringVar(&g.datadogAddr, "datadog-addr", "", "DogStatsD address, e.g. 127.0.0.1:8125")

	rc.AddCommand(
		newLoadCommand(g, stdout, stderr),
		newRefreshCommand(g, stdout),
		newSummaryCommand(g, stdout),
		newMigrateCommand(g, stdout),
		newValidateCommand(g, stdout, stderr),
		newProbeCommand(g, stdout),
		newServeCommand(g),
	)

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// pipeline loads the config file and applies flag overrides.
func (g *globalFlags) pipeline() (config.Pipeline, error) {
	p, err := config.Load(g.configPath)
	if err != nil {
		return config.Pipeline{}, err
	}
	if g.logLevel != "" {
		p.Log.Level = g.logLevel
	}
	if g.metricsBackend != "" {
		p.Metrics.Backend = g.metricsBackend
	}
	if g.pushgatewayURL != "" {
		p.Metrics.PushgatewayURL = g.pushgatewayURL
	}
	if g.datadogAddr != "" {
		p.Metrics.DatadogAddr = g.datadogAddr
	}
	return p, nil
}

// setup loads a valid config and builds the logger and metrics backend.
// The returned func flushes metrics and syncs the logger.
func (g *globalFlags) setup(stderr io.Writer) (config.Pipeline, *zap.Logger, func(), error) {
	p, err := g.pipeline()
	if err != nil {
		return config.Pipeline{}, nil, nil, err
	}
	if err := checkConfig(p, stderr); err != nil {
		return config.Pipeline{}, nil, nil, err
	}

	log, err := logging.New(logging.Config{Level: p.Log.Level, Format: p.Log.Format, Job: p.Job})
	if err != nil {
		return config.Pipeline{}, nil, nil, err
	}
	setupMetrics(p, log)

	done := func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics: flush failed", zap.Error(err))
		}
		_ = log.Sync()
	}
	return p, log, done, nil
}

// checkConfig prints every issue and fails when any is an error.
func checkConfig(p config.Pipeline, w io.Writer) error {
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
