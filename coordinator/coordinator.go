package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/getpup/leaf-orchestrator/metrics"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/pupsourcing/es"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Store is the leaf store (required).
	Store store.LeafStore

	// StaleClaimTimeout is the age after which a processing claim is considered abandoned (default: 1h).
	StaleClaimTimeout time.Duration

	// PollInterval is how often Watch looks for stale claims (default: 1m).
	PollInterval time.Duration

	// Logger is for observability (optional).
	Logger es.Logger

	// Metrics records released claims (optional).
	Metrics *metrics.Collector

	// Now supplies the current time (default: time.Now).
	Now func() time.Time
}

// Coordinator recovers leaves whose claim holder died while processing.
// A processing record that has not been refreshed within StaleClaimTimeout is
// moved to retry so that a later run may claim it again.
type Coordinator struct {
	config Config
}

// New creates a new Coordinator with the given configuration.
// Applies default values for timeout/interval values if zero.
func New(cfg Config) *Coordinator {
	if cfg.StaleClaimTimeout == 0 {
		cfg.StaleClaimTimeout = time.Hour
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Coordinator{
		config: cfg,
	}
}

// ReleaseStaleClaims moves every processing record older than StaleClaimTimeout
// to retry and returns how many were released. A claim that was refreshed,
// finished or replaced since it was listed is left alone.
func (c *Coordinator) ReleaseStaleClaims(ctx context.Context) (int, error) {
	now := c.config.Now()
	stale, err := c.config.Store.StaleClaims(ctx, now.Add(-c.config.StaleClaimTimeout))
	if err != nil {
		return 0, err
	}

	released := 0
	for _, rec := range stale {
		err := c.config.Store.ReleaseClaim(ctx, rec.Track, rec.Name, rec.Hash)
		if errors.Is(err, store.ErrClaimConflict) || errors.Is(err, store.ErrLeafNotFound) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++

		if c.config.Logger != nil {
			c.config.Logger.Info(ctx, "released stale claim",
				"track", rec.Track,
				"leaf", rec.Name,
				"hash", rec.Hash,
				"claimedAt", rec.UpdatedAt,
				"staleDuration", now.Sub(rec.UpdatedAt))
		}
	}

	if c.config.Metrics != nil && released > 0 {
		c.config.Metrics.AddStaleClaimsReleased(released)
	}

	return released, nil
}

// Watch releases stale claims every PollInterval until the context is cancelled.
// Store errors are logged and retried on the next tick.
func (c *Coordinator) Watch(ctx context.Context) error {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.ReleaseStaleClaims(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if c.config.Logger != nil {
					c.config.Logger.Error(ctx, "failed to release stale claims during watch", "error", err)
				}
			}
		}
	}
}
