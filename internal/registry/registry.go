// Package registry owns the set of known client sessions. It is the single
// shared mutable resource in the service: every other component is either a
// pure function or a thin orchestrator over this registry. Callers mutate
// sessions only through Mutate/Upsert, which run inside a per-client
// critical section, so concurrent telemetry and override updates for the
// same client are strictly ordered while different clients never block each
// other.
package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/metrics"
)

// Registry holds all client sessions keyed by client id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	historyCap int
	logger     *slog.Logger
	nowFunc    func() time.Time // injectable clock for testing
}

// entry pairs a session with its own lock. The registry map lock is held
// only for lookup and insert; all session reads and writes go through the
// entry lock.
type entry struct {
	mu      sync.Mutex
	removed bool
	sess    model.ClientSession
}

// New creates an empty registry. historyCap bounds the per-session decision
// history ring.
func New(historyCap int, logger *slog.Logger) *Registry {
	if historyCap <= 0 {
		historyCap = 32
	}
	return &Registry{
		sessions:   make(map[string]*entry),
		historyCap: historyCap,
		logger:     logger.With("component", "registry"),
		nowFunc:    time.Now,
	}
}

// WithClock overrides the registry clock. Test hook.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.nowFunc = now
	return r
}

// Mutate runs fn on the session for clientID inside its critical section,
// creating the session first if the id is unknown. New sessions start at the
// most conservative tier so no client is ever served an undefined tier.
// It returns a deep copy of the post-mutation session and whether the
// session was created by this call.
func (r *Registry) Mutate(clientID string, fn func(*model.ClientSession)) (model.ClientSession, bool) {
	for {
		e, created := r.getOrCreate(clientID)

		e.mu.Lock()
		if e.removed {
			// Lost a race with Remove; the map no longer holds this
			// entry, so take another lap and recreate.
			e.mu.Unlock()
			continue
		}
		if fn != nil {
			fn(&e.sess)
		}
		out := e.sess.Clone()
		e.mu.Unlock()

		if created {
			r.logger.Debug("session created", "client_id", clientID)
		}
		return out, created
	}
}

// Upsert records a telemetry snapshot against the session, creating it if
// needed, and returns the updated session. Classification is the decision
// engine's job; Upsert only maintains the raw session bookkeeping.
func (r *Registry) Upsert(clientID string, snapshot model.TelemetrySnapshot) (model.ClientSession, bool) {
	now := r.nowFunc()
	return r.Mutate(clientID, func(s *model.ClientSession) {
		s.Snapshot = snapshot
		s.UpdateCount++
		s.LastSeenAt = now
		s.Active = true
	})
}

// Get returns a copy of the session for clientID.
func (r *Registry) Get(clientID string) (model.ClientSession, bool) {
	r.mu.RLock()
	e, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return model.ClientSession{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return model.ClientSession{}, false
	}
	return e.sess.Clone(), true
}

// List returns copies of all sessions. Order is unspecified.
func (r *Registry) List() []model.ClientSession {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.ClientSession, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.sess.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// MarkInactive flags the session as past its liveness timeout. The session
// and its history remain queryable; only explicit removal deletes state.
func (r *Registry) MarkInactive(clientID string) bool {
	r.mu.RLock()
	e, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed || !e.sess.Active {
		return false
	}
	e.sess.Active = false
	return true
}

// Remove deletes the session in response to an explicit disconnect
// acknowledgement. A returning client id will cold-start a fresh session.
func (r *Registry) Remove(clientID string) bool {
	r.mu.Lock()
	e, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	size := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	metrics.SessionsTotal.Set(float64(size))
	r.logger.Info("session removed", "client_id", clientID)
	return true
}

// SweepExpired marks every active session whose last telemetry is older
// than timeout as inactive and returns their ids. The caller owns the
// lifecycle notifications.
func (r *Registry) SweepExpired(timeout time.Duration) []string {
	now := r.nowFunc()
	var expired []string
	for _, sess := range r.List() {
		if sess.Active && now.Sub(sess.LastSeenAt) > timeout {
			if r.MarkInactive(sess.ID) {
				expired = append(expired, sess.ID)
			}
		}
	}
	if len(expired) > 0 {
		metrics.SessionsMarkedInactive.Add(float64(len(expired)))
	}
	return expired
}

// Stats derives fleet-wide statistics by scanning all sessions. A session
// counts as active when it is not flagged inactive and its last telemetry
// is within timeout; the same constant drives SweepExpired so the stats
// view and the liveness marking can never disagree. An empty registry
// yields all-zero stats.
func (r *Registry) Stats(timeout time.Duration) model.FleetStats {
	now := r.nowFunc()
	stats := model.FleetStats{Distribution: make(map[model.Tier]int, len(model.AllTiers))}
	for _, t := range model.AllTiers {
		stats.Distribution[t] = 0
	}

	for _, sess := range r.List() {
		stats.TotalSessions++
		stats.TotalDecisions += sess.DecisionCount
		if sess.Active && now.Sub(sess.LastSeenAt) <= timeout {
			stats.ActiveSessions++
			stats.Distribution[sess.Tier]++
		}
	}
	return stats
}

// HistoryCapacity returns the configured per-session history ring size.
func (r *Registry) HistoryCapacity() int {
	return r.historyCap
}

func (r *Registry) getOrCreate(clientID string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if ok {
		return e, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[clientID]; ok {
		return e, false
	}

	now := r.nowFunc()
	e = &entry{
		sess: model.ClientSession{
			ID:   clientID,
			Tier: model.TierD,
			// TierSince stays zero until the first classification so the
			// dwell window never delays a brand-new client's first upgrade.
			LastSeenAt: now,
			Active:     true,
			History:    model.NewDecisionHistory(r.historyCap),
		},
	}
	r.sessions[clientID] = e
	metrics.SessionsTotal.Set(float64(len(r.sessions)))
	return e, true
}
