// Package stats derives fleet-wide statistics from the session registry.
// Nothing here holds independent counters: every figure is recomputed from
// live session state on demand, so the numbers cannot drift from reality.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/tiergate/tiergate/internal/broadcast"
	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/registry"
)

// Aggregator computes FleetStats on demand and publishes periodic samples
// to the broadcast channel for operator consoles.
type Aggregator struct {
	registry *registry.Registry
	broker   *broadcast.Broker

	// livenessTimeout is the same constant the sweeper uses, so "active"
	// here and "inactive" marking can never disagree.
	livenessTimeout time.Duration
	interval        time.Duration
	logger          *slog.Logger
	nowFunc         func() time.Time
}

// New creates a stats aggregator.
func New(reg *registry.Registry, broker *broadcast.Broker, livenessTimeout, interval time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		registry:        reg,
		broker:          broker,
		livenessTimeout: livenessTimeout,
		interval:        interval,
		logger:          logger.With("component", "stats"),
		nowFunc:         time.Now,
	}
}

// Compute scans the registry and returns a fresh FleetStats, updating the
// exported gauges as a side effect. An empty registry yields zero stats.
func (a *Aggregator) Compute() model.FleetStats {
	stats := a.registry.Stats(a.livenessTimeout)

	metrics.SessionsTotal.Set(float64(stats.TotalSessions))
	metrics.ActiveSessions.Set(float64(stats.ActiveSessions))
	for _, tier := range model.AllTiers {
		metrics.TierDistribution.WithLabelValues(tier.String()).Set(float64(stats.Distribution[tier]))
	}
	return stats
}

// Run publishes a stats sample on every tick until the context is
// cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("stats aggregator started", "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("stats aggregator stopping")
			return ctx.Err()
		case <-ticker.C:
			a.broker.Publish(event.Stats(a.Compute(), a.nowFunc()))
		}
	}
}
