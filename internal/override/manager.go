// Package override tracks operator-imposed tier pins and synthetic metrics.
// Overrides are stored on the session itself, written through the registry's
// mutation API so there is exactly one writer path per session field, and
// every change triggers an immediate re-evaluation by the decision engine.
package override

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/registry"
)

// Auto is the wire value that clears a tier override.
const Auto = "auto"

// Reevaluator is the slice of the decision engine the manager needs:
// re-run the decision for one client after its override state changed.
// cleared reports whether this change removed an override, which the engine
// tags as a "reset" decision.
type Reevaluator interface {
	OnOverrideChange(ctx context.Context, clientID string, cleared bool)
}

// Manager applies override commands.
type Manager struct {
	registry *registry.Registry
	engine   Reevaluator
	logger   *slog.Logger
}

// NewManager creates an override manager. The engine is attached afterwards
// via SetReevaluator because the engine also reads override state.
func NewManager(reg *registry.Registry, logger *slog.Logger) *Manager {
	return &Manager{
		registry: reg,
		logger:   logger.With("component", "override"),
	}
}

// SetReevaluator wires the decision engine in. Must be called before the
// manager receives commands.
func (m *Manager) SetReevaluator(engine Reevaluator) {
	m.engine = engine
}

// SetTierOverride pins the client to the given tier, or clears the pin when
// value is "auto". Unknown client ids create a session at the most
// conservative tier, so operator actions never race session creation.
func (m *Manager) SetTierOverride(ctx context.Context, clientID, value string) error {
	var pin *model.Tier
	if value != Auto {
		tier, ok := model.ParseTier(value)
		if !ok {
			return fmt.Errorf("invalid tier %q: want A, B, C, D or %q", value, Auto)
		}
		pin = &tier
	}

	cleared := false
	m.registry.Mutate(clientID, func(s *model.ClientSession) {
		cleared = pin == nil && s.OverrideTier != nil
		s.OverrideTier = pin
	})

	if pin != nil {
		metrics.OverrideOpsTotal.WithLabelValues("tier", "set").Inc()
		m.logger.Info("tier override set", "client_id", clientID, "tier", *pin)
	} else {
		metrics.OverrideOpsTotal.WithLabelValues("tier", "clear").Inc()
		m.logger.Info("tier override cleared", "client_id", clientID)
	}

	m.engine.OnOverrideChange(ctx, clientID, cleared)
	return nil
}

// SetMetricsOverride replaces the snapshot fed to the classifier with a
// synthetic one, or restores live telemetry when snapshot is nil. The
// classifier still runs; a metrics override does not pin a tier.
func (m *Manager) SetMetricsOverride(ctx context.Context, clientID string, snapshot *model.TelemetrySnapshot) error {
	var synthetic *model.TelemetrySnapshot
	if snapshot != nil {
		normalized := snapshot.Normalize(time.Now())
		synthetic = &normalized
	}

	cleared := false
	m.registry.Mutate(clientID, func(s *model.ClientSession) {
		cleared = synthetic == nil && s.OverrideSnapshot != nil
		s.OverrideSnapshot = synthetic
	})

	if synthetic != nil {
		metrics.OverrideOpsTotal.WithLabelValues("metrics", "set").Inc()
		m.logger.Info("metrics override set", "client_id", clientID)
	} else {
		metrics.OverrideOpsTotal.WithLabelValues("metrics", "clear").Inc()
		m.logger.Info("metrics override cleared", "client_id", clientID)
	}

	m.engine.OnOverrideChange(ctx, clientID, cleared)
	return nil
}
