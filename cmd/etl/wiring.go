package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"txetl/internal/aggregate"
	"txetl/internal/aggregate/redispub"
	"txetl/internal/config"
	"txetl/internal/datasource"
	"txetl/internal/datasource/file"
	"txetl/internal/datasource/httpds"
	"txetl/internal/loader"
	"txetl/internal/metrics"
	"txetl/internal/metrics/datadog"
	"txetl/internal/metrics/prompush"
	csvparser "txetl/internal/parser/csv"
	"txetl/internal/pipeline"
	"txetl/internal/storage"
	"txetl/internal/validate"
)

// Test seams.
var (
	newRepositoryFn = func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return storage.New(ctx, cfg)
	}

	newRedisFn = func(opt *redis.Options) redis.UniversalClient {
		return redis.NewClient(opt)
	}
)

// openRepository connects to the configured store and, when auto_migrate is
// set, brings the schema up to date.
func openRepository(ctx context.Context, p config.Pipeline, log *zap.Logger) (storage.Repository, error) {
	log.Info("storage: connecting", zap.String("kind", p.Storage.Kind))
	repo, err := newRepositoryFn(ctx, storage.Config{Kind: p.Storage.Kind, DSN: p.Storage.DB.DSN})
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", p.Storage.Kind, err)
	}
	if !p.Storage.DB.AutoMigrate {
		return repo, nil
	}
	applied, err := storage.Migrate(ctx, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}
	if len(applied) > 0 {
		log.Info("storage: migrations applied", zap.Ints("versions", applied))
	}
	return repo, nil
}

func openSource(p config.Pipeline, log *zap.Logger) (datasource.Source, error) {
	switch p.Source.Kind {
	case "", "file":
		return file.NewLocal(p.Source.File.Path), nil
	case "http":
		return httpds.NewSource(p.Source.HTTP.URL, httpds.Config{
			Timeout:    p.Source.HTTP.Timeout,
			MaxRetries: p.Source.HTTP.MaxRetries,
			Logger:     log,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported source.kind=%s", p.Source.Kind)
	}
}

func newValidator(p config.Pipeline) (*validate.Validator, error) {
	lo, hi, err := p.Validation.Range()
	if err != nil {
		return nil, err
	}
	return validate.New(validate.Config{Layouts: p.Validation.DateLayouts, Min: lo, Max: hi}), nil
}

// newPublisher returns the snapshot publisher for aggregates.publish and a
// func that releases it. The publisher is nil for kind "none".
func newPublisher(p config.Pipeline) (aggregate.Publisher, func(), error) {
	pub := p.Aggregates.Publish
	switch pub.Kind {
	case "", "none":
		return nil, func() {}, nil
	case "redis":
		client := newRedisFn(&redis.Options{Addr: pub.Redis.Addr, Password: pub.Redis.Password, DB: pub.Redis.DB})
		rp := redispub.New(client, redispub.Config{KeyPrefix: pub.Redis.KeyPrefix, TTL: pub.Redis.TTL})
		return rp, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported aggregates.publish.kind=%s", pub.Kind)
	}
}

func newMaintainer(repo storage.Repository, p config.Pipeline, log *zap.Logger) (*aggregate.Maintainer, func(), error) {
	pub, release, err := newPublisher(p)
	if err != nil {
		return nil, nil, err
	}
	return aggregate.New(repo, p.Job, pub, log), release, nil
}

func runnerConfig(p config.Pipeline, resumeFrom int) pipeline.Config {
	opts := csvparser.OptionsFrom(p.Parser.Options)
	if resumeFrom > 0 {
		opts.ResumeFromLine = resumeFrom
	}
	return pipeline.Config{
		Job:    p.Job,
		Parser: opts,
		Loader: loader.Config{
			BatchSize:    p.Runtime.BatchSize,
			Workers:      p.Runtime.LoaderWorkers,
			RetryBackoff: p.Runtime.RetryBackoff,
		},
		ChannelBuffer: p.Runtime.ChannelBuffer,
	}
}

// setupMetrics installs the configured backend. A backend that cannot be
// built leaves metrics disabled; the run itself goes on.
func setupMetrics(p config.Pipeline, log *zap.Logger) {
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "", "none":
		log.Debug("metrics: disabled")
		return
	case "pushgateway":
		b, err = prompush.NewBackend(p.Job, p.Metrics.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			Namespace:  p.Metrics.Namespace,
			GlobalTags: p.Metrics.Tags,
		})
	default:
		log.Warn("metrics: unknown backend; metrics disabled", zap.String("backend", p.Metrics.Backend))
		return
	}
	if err != nil {
		log.Warn("metrics: backend init failed; metrics disabled", zap.String("backend", p.Metrics.Backend), zap.Error(err))
		return
	}
	metrics.SetBackend(b)
	log.Info("metrics: enabled", zap.String("backend", p.Metrics.Backend))
}
