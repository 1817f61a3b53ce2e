// Package server exposes the service's external interfaces: the persistent
// per-client websocket channel, the operator event stream, and the
// request/response query and override endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiergate/tiergate/internal/broadcast"
	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/engine"
	"github.com/tiergate/tiergate/internal/override"
	"github.com/tiergate/tiergate/internal/registry"
	"github.com/tiergate/tiergate/internal/stats"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Config carries the server tunables.
type Config struct {
	// Per-client telemetry ingest limiter.
	IngestRatePerSec float64
	IngestBurst      int
}

// Server wires HTTP handlers to the decision service components.
type Server struct {
	cfg        Config
	registry   *registry.Registry
	engine     *engine.Engine
	overrides  *override.Manager
	aggregator *stats.Aggregator
	broker     *broadcast.Broker
	logger     *slog.Logger
}

// New creates the API server.
func New(cfg Config, reg *registry.Registry, eng *engine.Engine, ovr *override.Manager, agg *stats.Aggregator, broker *broadcast.Broker, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		registry:   reg,
		engine:     eng,
		overrides:  ovr,
		aggregator: agg,
		broker:     broker,
		logger:     logger.With("component", "server"),
	}
}

// Handler returns the HTTP handler for the full API surface. Operator
// endpoints are wrapped in audit logging and per-IP rate limiting.
func (s *Server) Handler(rl *RateLimitMiddleware) http.Handler {
	mux := http.NewServeMux()

	// Client channel and telemetry push.
	mux.HandleFunc("GET /v1/ws", s.handleClientSocket)
	mux.HandleFunc("POST /v1/telemetry/{id}", s.handleTelemetry)

	// Operator console.
	mux.HandleFunc("GET /v1/events", s.handleEventStream)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDisconnect)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("PUT /v1/overrides/{id}/tier", s.handleTierOverride)
	mux.HandleFunc("PUT /v1/overrides/{id}/metrics", s.handleMetricsOverride)

	// Operational endpoints.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = AuditMiddleware(s.logger, handler)
	if rl != nil {
		handler = rl.Wrap(handler)
	}
	return handler
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	if clientID == "" {
		http.Error(w, `{"error":"client id is required"}`, http.StatusBadRequest)
		return
	}

	var snap model.TelemetrySnapshot
	if !decodeJSONBody(w, r, &snap) {
		return
	}

	sess := s.engine.OnTelemetry(r.Context(), clientID, snap)
	writeJSON(w, http.StatusOK, sessionResponseFrom(sess))
}

type sessionResponse struct {
	ID               string                   `json:"id"`
	Tier             string                   `json:"tier"`
	Active           bool                     `json:"active"`
	Snapshot         model.TelemetrySnapshot  `json:"snapshot"`
	OverrideTier     *model.Tier              `json:"override_tier,omitempty"`
	OverrideSnapshot *model.TelemetrySnapshot `json:"override_snapshot,omitempty"`
	UpdateCount      uint64                   `json:"update_count"`
	DecisionCount    uint64                   `json:"decision_count"`
	LastSeenAt       string                   `json:"last_seen_at"`
	TierSince        string                   `json:"tier_since,omitempty"`
	History          []model.DecisionEvent    `json:"history,omitempty"`
}

func sessionResponseFrom(sess model.ClientSession) sessionResponse {
	resp := sessionResponse{
		ID:               sess.ID,
		Tier:             sess.Tier.String(),
		Active:           sess.Active,
		Snapshot:         sess.Snapshot,
		OverrideTier:     sess.OverrideTier,
		OverrideSnapshot: sess.OverrideSnapshot,
		UpdateCount:      sess.UpdateCount,
		DecisionCount:    sess.DecisionCount,
		LastSeenAt:       sess.LastSeenAt.UTC().Format(timeFormat),
	}
	if !sess.TierSince.IsZero() {
		resp.TierSince = sess.TierSince.UTC().Format(timeFormat)
	}
	return resp
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.registry.List()

	activeOnly := r.URL.Query().Get("active") == "true"
	resp := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		if activeOnly && !sess.Active {
			continue
		}
		resp = append(resp, sessionResponseFrom(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	sess, ok := s.registry.Get(clientID)
	if !ok {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	resp := sessionResponseFrom(sess)
	resp.History = sess.History.Events()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	if !s.engine.Disconnect(clientID) {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Compute())
}

type tierOverrideRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleTierOverride(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")

	var req tierOverrideRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Tier == "" {
		http.Error(w, `{"error":"tier is required (A, B, C, D or auto)"}`, http.StatusBadRequest)
		return
	}

	if err := s.overrides.SetTierOverride(r.Context(), clientID, req.Tier); err != nil {
		http.Error(w, `{"error":"invalid tier value"}`, http.StatusBadRequest)
		return
	}

	sess, _ := s.registry.Get(clientID)
	writeJSON(w, http.StatusOK, sessionResponseFrom(sess))
}

type metricsOverrideRequest struct {
	Snapshot *model.TelemetrySnapshot `json:"snapshot"`
}

func (s *Server) handleMetricsOverride(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")

	var req metricsOverrideRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := s.overrides.SetMetricsOverride(r.Context(), clientID, req.Snapshot); err != nil {
		s.logger.Error("metrics override failed", "client_id", clientID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	sess, _ := s.registry.Get(clientID)
	writeJSON(w, http.StatusOK, sessionResponseFrom(sess))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Warn("failed to write health response", "error", err)
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"
