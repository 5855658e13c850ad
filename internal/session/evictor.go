// ABOUTME: Periodic idle-session eviction
// ABOUTME: Closes sessions idle past the threshold so memory is rebuilt from history next time

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sweeper evicts idle sessions.
type Sweeper interface {
	EvictIdle(threshold time.Duration) int
}

// Evictor runs a Sweeper on a fixed interval.
type Evictor struct {
	sweeper   Sweeper
	threshold time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewEvictor creates an Evictor. interval defaults to a quarter of the
// threshold, so a session is evicted at most 25% late.
func NewEvictor(sweeper Sweeper, threshold, interval time.Duration, logger *slog.Logger) (*Evictor, error) {
	if sweeper == nil {
		return nil, errors.New("evictor requires a sweeper")
	}
	if threshold <= 0 {
		return nil, errors.New("idle threshold must be positive")
	}
	if interval <= 0 {
		interval = threshold / 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evictor{
		sweeper:   sweeper,
		threshold: threshold,
		interval:  interval,
		logger:    logger.With("component", "evictor"),
	}, nil
}

// Run sweeps until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("idle eviction started", "threshold", e.threshold, "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("idle eviction stopping")
			return nil
		case <-ticker.C:
			e.sweep()
		}
	}
}

func (e *Evictor) sweep() {
	start := time.Now()
	if removed := e.sweeper.EvictIdle(e.threshold); removed > 0 {
		e.logger.Info("evicted idle sessions",
			"removed", removed,
			"duration", time.Since(start),
		)
	}
}
