package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"txetl/internal/aggregate"
	"txetl/internal/config"
	"txetl/internal/httpapi"
	"txetl/internal/pipeline"
	"txetl/internal/probe"
	"txetl/internal/storage"
)

func newLoadCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var (
		resumeFrom int
		resume     bool
		noRefresh  bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the configured source and print the run report as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, log, done, err := g.setup(stderr)
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()

			repo, err := openRepository(ctx, p, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			if resume {
				last, err := pipeline.LastRun(ctx, repo, p.Job)
				switch {
				case errors.Is(err, pipeline.ErrNoRuns):
					log.Info("load: no previous run, starting from the top")
				case err != nil:
					return err
				case last.Status == pipeline.StatusCompleted:
					log.Info("load: previous run completed, starting from the top", zap.String("run_id", last.RunID))
				default:
					resumeFrom = last.ResumeLine
					log.Info("load: resuming",
						zap.String("previous_run", last.RunID),
						zap.String("previous_status", string(last.Status)),
						zap.Int("line", resumeFrom))
				}
			}

			src, err := openSource(p, log)
			if err != nil {
				return err
			}
			v, err := newValidator(p)
			if err != nil {
				return err
			}

			var m *aggregate.Maintainer
			if p.Aggregates.RefreshAfterLoad && !noRefresh {
				var release func()
				m, release, err = newMaintainer(repo, p, log)
				if err != nil {
					return err
				}
				defer release()
			}

			rep, runErr := pipeline.New(repo, v, m, runnerConfig(p, resumeFrom), log).Run(ctx, src)
			if rep != nil {
				if err := rep.WriteJSON(stdout); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&resumeFrom, "resume-from-line", 0, "skip source lines before this line number")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue from where the job's last unfinished run stopped")
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "skip the aggregate refresh after loading")
	cmd.MarkFlagsMutuallyExclusive("resume", "resume-from-line")
	return cmd
}

func newRefreshCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recompute every summary aggregate from the fact table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, log, done, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()

			repo, err := openRepository(ctx, p, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			m, release, err := newMaintainer(repo, p, log)
			if err != nil {
				return err
			}
			defer release()

			rep, err := m.Refresh(ctx)
			if err != nil {
				return err
			}
			return writeJSON(stdout, rep)
		},
	}
}

func newSummaryCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the last committed aggregate snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, log, done, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()

			repo, err := openRepository(ctx, p, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			snap, err := aggregate.Load(ctx, repo)
			if errors.Is(err, aggregate.ErrNoSnapshot) {
				return fmt.Errorf("%w; run `etl refresh` first", err)
			}
			if err != nil {
				return err
			}
			if name == "" {
				return writeJSON(stdout, snap)
			}
			for _, a := range snap.Aggregates {
				if a.Name == name {
					return writeJSON(stdout, a)
				}
			}
			return fmt.Errorf("unknown aggregate %q", name)
		},
	}
	cmd.Flags().StringVar(&name, "aggregate", "", "print only this aggregate, e.g. by_region")
	return cmd
}

func newMigrateCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, log, done, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()

			p.Storage.DB.AutoMigrate = false
			repo, err := openRepository(ctx, p, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			applied, err := storage.Migrate(ctx, repo)
			if err != nil {
				return err
			}
			version, err := storage.SchemaVersion(ctx, repo)
			if err != nil {
				return err
			}
			if applied == nil {
				applied = []int{}
			}
			return writeJSON(stdout, map[string]any{"applied": applied, "schema_version": version})
		},
	}
}

func newValidateCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.pipeline()
			if err != nil {
				return err
			}
			if err := checkConfig(p, stderr); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "configuration is valid: %s\n", g.configPath)
			return nil
		},
	}
}

func newProbeCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	var (
		maxBytes  int
		maxRows   int
		delimiter string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample the configured source and suggest parser options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := g.pipeline()
			if err != nil {
				return err
			}
			src, err := openSource(p, nil)
			if err != nil {
				return err
			}
			opt := probe.Options{
				MaxBytes:  maxBytes,
				MaxRows:   maxRows,
				HeaderMap: p.Parser.Options.StringMap("header_map"),
			}
			if delimiter != "" {
				opt.Delimiter = config.Options{"comma": delimiter}.Rune("comma", ',')
			}
			res, err := probe.Probe(cmd.Context(), src, opt)
			if err != nil {
				return err
			}
			return writeJSON(stdout, res)
		},
	}
	cmd.Flags().IntVar(&maxBytes, "max-bytes", probe.DefaultMaxBytes, "bytes to sample from the start of the source")
	cmd.Flags().IntVar(&maxRows, "max-rows", probe.DefaultMaxRows, "data rows to inspect")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", `force a delimiter instead of detecting one (use \t for tab)`)
	return cmd
}

func newServeCommand(g *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run ledger, aggregate snapshot and probe over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, log, done, err := g.setup(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()

			repo, err := openRepository(ctx, p, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			srv := httpapi.NewServer(httpapi.Config{
				Addr:      addr,
				Job:       p.Job,
				HeaderMap: p.Parser.Options.StringMap("header_map"),
			}, repo, log)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
