package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters, gauges and histograms for the decision loop, partitioned by tier
// and decision reason where that keeps cardinality bounded.

var (
	// Ingest
	TelemetryUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "ingest",
		Name:      "telemetry_updates_total",
		Help:      "Total telemetry snapshots accepted",
	})

	TelemetryThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "ingest",
		Name:      "telemetry_throttled_total",
		Help:      "Total telemetry frames rejected by the per-client rate limiter",
	})

	// Decision engine
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "engine",
		Name:      "decisions_total",
		Help:      "Total tier decisions emitted",
	}, []string{"tier", "reason"})

	TierChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "engine",
		Name:      "tier_changes_total",
		Help:      "Total decisions whose tier differs from the previous tier",
	}, []string{"tier", "reason"})

	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tiergate",
		Subsystem: "engine",
		Name:      "decision_duration_seconds",
		Help:      "Per-client decision critical section duration",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	})

	UpgradesDeferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "engine",
		Name:      "upgrades_deferred_total",
		Help:      "Total upgrades held back by the hysteresis dwell window",
	})

	// Overrides
	OverrideOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "override",
		Name:      "operations_total",
		Help:      "Total override operations by kind (tier, metrics) and action (set, clear)",
	}, []string{"kind", "action"})

	// Sessions
	SessionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "registry",
		Name:      "sessions",
		Help:      "Current number of known sessions",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "registry",
		Name:      "active_sessions",
		Help:      "Current number of sessions within the liveness timeout",
	})

	TierDistribution = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "registry",
		Name:      "tier_distribution",
		Help:      "Active sessions per tier",
	}, []string{"tier"})

	SessionsMarkedInactive = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "registry",
		Name:      "sessions_marked_inactive_total",
		Help:      "Total liveness timeouts applied by the sweeper",
	})

	// Broadcast
	BroadcastSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "broadcast",
		Name:      "subscribers",
		Help:      "Current number of broadcast subscribers",
	})

	BroadcastPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "broadcast",
		Name:      "published_total",
		Help:      "Total events published to the broadcast channel",
	}, []string{"type"})

	BroadcastDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "broadcast",
		Name:      "dropped_total",
		Help:      "Total events dropped for slow subscribers",
	})

	// WebSocket channel
	WSConnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "ws",
		Name:      "connects_total",
		Help:      "Total websocket client connections accepted",
	})

	WSDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "ws",
		Name:      "disconnects_total",
		Help:      "Total websocket client connections closed",
	})

	// Event mirror transport
	MirrorPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "mirror",
		Name:      "published_total",
		Help:      "Total envelopes mirrored to the event transport",
	})

	MirrorErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "mirror",
		Name:      "errors_total",
		Help:      "Total event transport publish failures (dropped, never retried)",
	})

	MirrorSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "mirror",
		Name:      "skipped_total",
		Help:      "Total envelopes skipped while the mirror circuit breaker was open",
	})

	MirrorBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tiergate",
		Subsystem: "mirror",
		Name:      "breaker_state",
		Help:      "Mirror circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// Alerts
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"channel", "alert_type"})

	// Operator API
	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tiergate",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total operator API requests rejected by the rate limiter",
	})
)
