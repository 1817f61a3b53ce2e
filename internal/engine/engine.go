// Package engine orchestrates the classifier and the override state against
// the session registry. It is the only component that writes tiers and
// decision history, which keeps exactly one authoritative decision source
// per update.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tiergate/tiergate/internal/alert"
	"github.com/tiergate/tiergate/internal/circuitbreaker"
	"github.com/tiergate/tiergate/internal/domain/event"
	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/metrics"
	"github.com/tiergate/tiergate/internal/registry"
	"github.com/tiergate/tiergate/internal/transport"
)

const mirrorPublishTimeout = 2 * time.Second

// Publisher is the broadcast fan-out the engine emits into. Satisfied by
// *broadcast.Broker.
type Publisher interface {
	Publish(event.Envelope)
}

// Config carries the engine's tunables.
type Config struct {
	Policy          model.Policy
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	MirrorStream    string

	// Flap detection: FlapThreshold tier changes within FlapWindow raise
	// a session flap alert.
	FlapThreshold int
	FlapWindow    time.Duration

	// DegradedShare of active sessions in tier D raises a fleet alert.
	DegradedShare float64
}

// Engine drives tier decisions for all clients.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	broker   Publisher
	mirror   transport.MessageTransport
	breaker  *circuitbreaker.Breaker
	alerter  alert.Alerter
	tracer   trace.Tracer
	logger   *slog.Logger
	nowFunc  func() time.Time
}

// New creates a decision engine. mirror and alerter may be nil; the engine
// then skips event mirroring and alerting.
func New(cfg Config, reg *registry.Registry, broker Publisher, mirror transport.MessageTransport, alerter alert.Alerter, logger *slog.Logger) *Engine {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.MirrorBreakerState.Set(float64(to))
			logger.Warn("mirror circuit breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &Engine{
		cfg:      cfg,
		registry: reg,
		broker:   broker,
		mirror:   mirror,
		breaker:  breaker,
		alerter:  alerter,
		tracer:   otel.Tracer("tiergate/engine"),
		logger:   logger.With("component", "engine"),
		nowFunc:  time.Now,
	}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.nowFunc = now
	return e
}

// decision is the outcome of one pass through the decision orchestration.
type decision struct {
	event   model.DecisionEvent
	made    bool // false when there is nothing to decide yet
	publish bool // tier or reason changed since the last decision
}

// OnTelemetry ingests one telemetry snapshot for a client and runs the full
// decision orchestration inside the client's critical section.
func (e *Engine) OnTelemetry(ctx context.Context, clientID string, raw model.TelemetrySnapshot) model.ClientSession {
	_, span := e.tracer.Start(ctx, "engine.OnTelemetry",
		trace.WithAttributes(attribute.String("client_id", clientID)))
	defer span.End()

	start := time.Now()
	now := e.nowFunc()
	snap := raw.Normalize(now)

	var (
		dec         decision
		wasInactive bool
	)
	sess, created := e.registry.Mutate(clientID, func(s *model.ClientSession) {
		wasInactive = !s.Active
		s.Snapshot = snap
		s.UpdateCount++
		s.LastSeenAt = now
		s.Active = true
		dec = e.decide(s, model.ReasonAuto, now)
	})

	metrics.TelemetryUpdatesTotal.Inc()
	metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("tier", dec.event.Tier.String()),
		attribute.String("reason", string(dec.event.Reason)),
	)

	e.afterDecision(sess, dec, created || wasInactive)
	return sess
}

// OnOverrideChange re-evaluates a client immediately after its override
// state changed. cleared marks the change as an override removal, which
// tags the resulting automatic decision as a "reset". A session with no
// overrides and no prior decisions stays pending at its default tier until
// the first real update; once any decision exists, clearing an override
// always reclassifies so no tier from a removed override survives.
func (e *Engine) OnOverrideChange(ctx context.Context, clientID string, cleared bool) {
	_, span := e.tracer.Start(ctx, "engine.OnOverrideChange",
		trace.WithAttributes(attribute.String("client_id", clientID)))
	defer span.End()

	now := e.nowFunc()
	baseReason := model.ReasonAuto
	if cleared {
		baseReason = model.ReasonReset
	}

	var dec decision
	sess, created := e.registry.Mutate(clientID, func(s *model.ClientSession) {
		if s.OverrideTier == nil && s.OverrideSnapshot == nil && s.UpdateCount == 0 && s.History.Len() == 0 {
			// Nothing to classify yet; the session was created at tier D
			// pending first telemetry.
			return
		}
		dec = e.decide(s, baseReason, now)
	})

	e.afterDecision(sess, dec, created)
}

// decide runs the orchestration of one decision against the locked session:
// override pin wins outright, otherwise the classifier runs on the synthetic
// snapshot if present, else on live telemetry. The resulting tier and
// decision event are written into the session before the lock is released.
func (e *Engine) decide(s *model.ClientSession, baseReason model.DecisionReason, now time.Time) decision {
	snapUsed := s.Snapshot
	if s.OverrideSnapshot != nil {
		snapUsed = *s.OverrideSnapshot
	}

	var (
		tier   model.Tier
		reason model.DecisionReason
	)
	if s.OverrideTier != nil {
		tier = *s.OverrideTier
		reason = model.ReasonOverride
	} else {
		dwell := dwellTime(s.TierSince, now)
		tier = e.cfg.Policy.Classify(snapUsed, s.Tier, dwell)
		reason = baseReason

		if target := e.cfg.Policy.Target(snapUsed); target.Richer(tier) {
			metrics.UpgradesDeferredTotal.Inc()
		}
	}

	prev := s.Tier
	if tier != prev {
		s.Tier = tier
		s.TierSince = now
	} else if s.TierSince.IsZero() {
		// First classification confirming the default tier starts the
		// dwell clock.
		s.TierSince = now
	}

	ev := model.DecisionEvent{
		EventID:      uuid.NewString(),
		ClientID:     s.ID,
		Snapshot:     snapUsed,
		Tier:         tier,
		PreviousTier: prev,
		Reason:       reason,
		Timestamp:    now,
	}

	last, hadLast := s.History.Latest()
	publish := !hadLast || tier != prev || reason != last.Reason

	s.History.Push(ev)
	s.DecisionCount++

	return decision{event: ev, made: true, publish: publish}
}

// afterDecision handles everything decoupled from the per-client critical
// section: lifecycle events, broadcast, the event mirror, metrics and flap
// detection. It must never block on a slow consumer.
func (e *Engine) afterDecision(sess model.ClientSession, dec decision, connected bool) {
	now := e.nowFunc()

	if connected {
		e.broker.Publish(event.Lifecycle(event.TypeConnected, sess.ID, now))
	}

	if !dec.made {
		return
	}

	metrics.DecisionsTotal.WithLabelValues(dec.event.Tier.String(), string(dec.event.Reason)).Inc()
	if dec.event.Tier != dec.event.PreviousTier {
		metrics.TierChangesTotal.WithLabelValues(dec.event.Tier.String(), string(dec.event.Reason)).Inc()
	}

	if !dec.publish {
		return
	}

	e.logger.Info("tier decision",
		"client_id", dec.event.ClientID,
		"tier", dec.event.Tier,
		"previous_tier", dec.event.PreviousTier,
		"reason", dec.event.Reason,
	)
	e.broker.Publish(event.Decision(dec.event))
	e.mirrorDecision(dec.event)
	e.checkFlapping(sess, now)
}

// mirrorDecision forwards the decision to the event transport without
// holding up the caller. Failures are counted and dropped.
func (e *Engine) mirrorDecision(ev model.DecisionEvent) {
	if e.mirror == nil {
		return
	}
	go func() {
		if err := e.breaker.Allow(); err != nil {
			metrics.MirrorSkippedTotal.Inc()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), mirrorPublishTimeout)
		defer cancel()
		if err := e.mirror.PublishJSON(ctx, e.cfg.MirrorStream, event.Decision(ev)); err != nil {
			e.breaker.RecordFailure()
			metrics.MirrorErrorsTotal.Inc()
			e.logger.Warn("event mirror publish failed", "client_id", ev.ClientID, "error", err)
			return
		}
		e.breaker.RecordSuccess()
		metrics.MirrorPublishedTotal.Inc()
	}()
}

// checkFlapping raises an alert when a session's tier changed too often
// within the flap window. The alerter's cooldown keeps a persistently
// flapping client from spamming channels.
func (e *Engine) checkFlapping(sess model.ClientSession, now time.Time) {
	if e.cfg.FlapThreshold <= 0 || e.cfg.FlapWindow <= 0 {
		return
	}

	changes := 0
	for _, ev := range sess.History.Events() {
		if now.Sub(ev.Timestamp) > e.cfg.FlapWindow {
			break
		}
		if ev.Tier != ev.PreviousTier {
			changes++
		}
	}
	if changes < e.cfg.FlapThreshold {
		return
	}

	a := alert.Alert{
		Type:     alert.AlertTypeSessionFlap,
		ClientID: sess.ID,
		Title:    "session tier is flapping",
		Message:  "tier changed repeatedly within the flap window",
		Fields: map[string]string{
			"changes": strconv.Itoa(changes),
			"window":  e.cfg.FlapWindow.String(),
			"tier":    sess.Tier.String(),
		},
	}
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.alerter.Send(sendCtx, a); err != nil {
			e.logger.Warn("flap alert failed", "client_id", sess.ID, "error", err)
		}
	}()
}

// dwellTime computes how long the session has held its current tier. A zero
// TierSince means the session has never been classified; report an
// effectively infinite dwell so the provisional default tier never delays
// the first upgrade.
func dwellTime(tierSince, now time.Time) time.Duration {
	if tierSince.IsZero() {
		return 1<<63 - 1
	}
	return now.Sub(tierSince)
}
