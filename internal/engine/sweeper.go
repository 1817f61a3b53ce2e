package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tiergate/tiergate/internal/alert"
	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/model"
)

// Run drives the liveness sweeper until the context is cancelled. Each tick
// marks sessions past the liveness timeout as inactive, publishes the
// corresponding lifecycle events, and checks fleet-wide degradation. The
// session records themselves survive so a returning client resumes its last
// tier instead of re-cold-starting.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("liveness sweeper started",
		"liveness_timeout", e.cfg.LivenessTimeout,
		"sweep_interval", e.cfg.SweepInterval,
	)

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("liveness sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	now := e.nowFunc()
	for _, clientID := range e.registry.SweepExpired(e.cfg.LivenessTimeout) {
		e.logger.Info("session marked inactive", "client_id", clientID)
		e.broker.Publish(event.Lifecycle(event.TypeInactive, clientID, now))
	}
	e.checkFleetDegradation(ctx)
}

// Disconnect handles an explicit disconnect acknowledgement: the only path
// that removes a session. Pending work for other clients is unaffected.
func (e *Engine) Disconnect(clientID string) bool {
	if !e.registry.Remove(clientID) {
		return false
	}
	e.broker.Publish(event.Lifecycle(event.TypeDisconnected, clientID, e.nowFunc()))
	return true
}

// checkFleetDegradation alerts when the tier-D share of the active fleet
// crosses the configured threshold.
func (e *Engine) checkFleetDegradation(ctx context.Context) {
	if e.cfg.DegradedShare <= 0 {
		return
	}

	stats := e.registry.Stats(e.cfg.LivenessTimeout)
	if stats.ActiveSessions == 0 {
		return
	}
	share := float64(stats.Distribution[model.TierD]) / float64(stats.ActiveSessions)
	if share < e.cfg.DegradedShare {
		return
	}

	a := alert.Alert{
		Type:    alert.AlertTypeFleetDegraded,
		Title:   "fleet fidelity degraded",
		Message: "too many active sessions are pinned at the most conservative tier",
		Fields: map[string]string{
			"tier_d_sessions": fmt.Sprintf("%d", stats.Distribution[model.TierD]),
			"active_sessions": fmt.Sprintf("%d", stats.ActiveSessions),
			"share":           fmt.Sprintf("%.2f", share),
		},
	}
	if err := e.alerter.Send(ctx, a); err != nil {
		e.logger.Warn("fleet degradation alert failed", "error", err)
	}
}
