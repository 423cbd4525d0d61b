// Package statspublisher periodically snapshots the session manager's
// counters and publishes them as a JSON document into a cache, giving
// operators a pollable view of the server without touching the manager.
package statspublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cyberinferno/echo-server/cacher"
	"github.com/cyberinferno/echo-server/logger"
	"github.com/cyberinferno/echo-server/sessionmanager"
)

// Snapshot is the published document.
type Snapshot struct {
	ActiveCount   int       `json:"active_count"`
	RecycledCount int       `json:"recycled_count"`
	TotalAccepted uint64    `json:"total_accepted"`
	AcceptErrors  uint64    `json:"accept_errors"`
	TotalStopped  uint64    `json:"total_stopped"`
	StopErrors    uint64    `json:"stop_errors"`
	PublishedAt   time.Time `json:"published_at"`
}

// StatsSource yields the counter snapshot to publish. *sessionmanager.Manager
// satisfies it.
type StatsSource interface {
	Stats() sessionmanager.Stats
}

// Config is the publisher's configuration.
type Config struct {
	// Key is the cache key the snapshot is written under.
	Key string
	// Interval is the time between publications.
	Interval time.Duration
	// TTL is how long each snapshot stays in the cache. Zero keeps the
	// snapshot until the next one replaces it.
	TTL time.Duration
}

// DefaultConfig returns the publisher configuration used when none is given.
//
// Returns:
//   - A Config publishing under "echoserver:stats" every 5 seconds
func DefaultConfig() Config {
	return Config{
		Key:      "echoserver:stats",
		Interval: 5 * time.Second,
	}
}

// Publisher writes periodic snapshots of a StatsSource into a cache. Create
// one with New and drive it with Run.
type Publisher struct {
	cfg    Config
	source StatsSource
	cache  cacher.Cacher[string]
	log    logger.Logger
}

// New creates a Publisher.
//
// Parameters:
//   - cfg: Publication key, interval, and TTL
//   - source: The stats source to snapshot
//   - cache: Destination for the JSON documents
//   - log: Structured logger for publication failures
//
// Returns:
//   - A pointer to a new Publisher
func New(cfg Config, source StatsSource, cache cacher.Cacher[string], log logger.Logger) *Publisher {
	if cfg.Key == "" {
		cfg.Key = DefaultConfig().Key
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	return &Publisher{
		cfg:    cfg,
		source: source,
		cache:  cache,
		log:    log,
	}
}

// Run publishes a snapshot immediately and then on every interval tick until
// ctx is cancelled. Publication failures are logged and the loop continues.
//
// Parameters:
//   - ctx: Cancelling it stops the loop
//
// Returns:
//   - ctx.Err() once the loop has stopped
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.Publish(ctx); err != nil {
		p.log.Warn("stats publication failed",
			logger.Field{Key: "error", Value: err})
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil {
				p.log.Warn("stats publication failed",
					logger.Field{Key: "error", Value: err})
			}
		}
	}
}

// Publish writes one snapshot into the cache.
//
// Parameters:
//   - ctx: Context for the cache write
//
// Returns:
//   - An error if marshalling or the cache write fails
func (p *Publisher) Publish(ctx context.Context) error {
	stats := p.source.Stats()
	snapshot := Snapshot{
		ActiveCount:   stats.ActiveCount,
		RecycledCount: stats.RecycledCount,
		TotalAccepted: stats.TotalAccepted,
		AcceptErrors:  stats.AcceptErrors,
		TotalStopped:  stats.TotalStopped,
		StopErrors:    stats.StopErrors,
		PublishedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("statspublisher: marshal snapshot: %w", err)
	}

	if err := p.cache.Set(ctx, p.cfg.Key, string(data), p.cfg.TTL); err != nil {
		return fmt.Errorf("statspublisher: cache snapshot: %w", err)
	}
	return nil
}
