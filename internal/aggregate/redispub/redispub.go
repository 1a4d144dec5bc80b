// Package redispub publishes committed aggregate snapshots to Redis so
// dashboards can read summaries without touching the warehouse.
//
// Keys, for prefix "etl":
//
//	etl:agg:generation   latest published generation
//	etl:agg:<name>       JSON array of rows for one aggregate
//
// All keys of one snapshot are written in a single MULTI/EXEC.
package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"txetl/internal/aggregate"
)

// Config for the publisher.
type Config struct {
	KeyPrefix string
	// TTL applied to every key; zero keeps keys until overwritten.
	TTL time.Duration
}

// Publisher implements aggregate.Publisher.
type Publisher struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ aggregate.Publisher = (*Publisher)(nil)

// New returns a Publisher writing through client. The client lifecycle is
// managed by the caller.
func New(client redis.Cmdable, cfg Config) *Publisher {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "etl"
	}
	return &Publisher{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Key returns the Redis key for an aggregate name, or for "generation".
func (p *Publisher) Key(name string) string {
	return p.prefix + ":agg:" + name
}

// Publish writes every aggregate of s and its generation atomically.
func (p *Publisher) Publish(ctx context.Context, s *aggregate.Snapshot) error {
	if s == nil {
		return errors.New("redispub: nil snapshot")
	}
	payloads := make(map[string][]byte, len(s.Aggregates))
	for _, a := range s.Aggregates {
		b, err := json.Marshal(a.Rows)
		if err != nil {
			return fmt.Errorf("redispub: encode %s: %w", a.Name, err)
		}
		payloads[a.Name] = b
	}

	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, b := range payloads {
			pipe.Set(ctx, p.Key(name), b, p.ttl)
		}
		pipe.Set(ctx, p.Key("generation"), s.Generation, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redispub: publish generation %d: %w", s.Generation, err)
	}
	return nil
}

// Generation returns the last published generation, or 0 when nothing has
// been published.
func (p *Publisher) Generation(ctx context.Context) (int64, error) {
	v, err := p.client.Get(ctx, p.Key("generation")).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// Rows returns the published rows of one aggregate.
func (p *Publisher) Rows(ctx context.Context, name string) ([]aggregate.Row, error) {
	b, err := p.client.Get(ctx, p.Key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []aggregate.Row
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("redispub: decode %s: %w", name, err)
	}
	return rows, nil
}
