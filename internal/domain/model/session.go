package model

import (
	"encoding/json"
	"time"
)

// DecisionReason tags how a decision was produced.
type DecisionReason string

const (
	// ReasonAuto marks a decision produced by the classifier.
	ReasonAuto DecisionReason = "auto"
	// ReasonOverride marks a decision dictated by an operator tier pin.
	ReasonOverride DecisionReason = "override"
	// ReasonReset marks the first automatic decision after an override
	// was cleared.
	ReasonReset DecisionReason = "reset"
)

// DecisionEvent records one tier decision for one client. Events are
// append-only and retained per client up to the history capacity.
type DecisionEvent struct {
	EventID      string            `json:"event_id"`
	ClientID     string            `json:"client_id"`
	Snapshot     TelemetrySnapshot `json:"snapshot"`
	Tier         Tier              `json:"tier"`
	PreviousTier Tier              `json:"previous_tier"`
	Reason       DecisionReason    `json:"reason"`
	Timestamp    time.Time         `json:"timestamp"`
}

// ClientSession is the server-side record of one client's current and
// historical tier state. Sessions are owned exclusively by the registry;
// all mutation happens inside the registry's per-client critical section.
type ClientSession struct {
	ID               string             `json:"id"`
	Snapshot         TelemetrySnapshot  `json:"snapshot"`
	Tier             Tier               `json:"tier"`
	TierSince        time.Time          `json:"tier_since"`
	OverrideTier     *Tier              `json:"override_tier,omitempty"`
	OverrideSnapshot *TelemetrySnapshot `json:"override_snapshot,omitempty"`
	UpdateCount      uint64             `json:"update_count"`
	DecisionCount    uint64             `json:"decision_count"`
	LastSeenAt       time.Time          `json:"last_seen_at"`
	Active           bool               `json:"active"`
	History          DecisionHistory    `json:"history"`
}

// Clone returns a deep copy safe to hand outside the registry lock.
func (s *ClientSession) Clone() ClientSession {
	out := *s
	if s.OverrideTier != nil {
		t := *s.OverrideTier
		out.OverrideTier = &t
	}
	if s.OverrideSnapshot != nil {
		snap := *s.OverrideSnapshot
		out.OverrideSnapshot = &snap
	}
	out.History = s.History.clone()
	return out
}

// DecisionHistory is a fixed-capacity ring of decision events, newest first.
type DecisionHistory struct {
	events []DecisionEvent // newest at index 0
	cap    int
}

// NewDecisionHistory creates a history ring holding at most capacity events.
func NewDecisionHistory(capacity int) DecisionHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return DecisionHistory{cap: capacity}
}

// Push prepends an event, evicting the oldest once capacity is reached.
func (h *DecisionHistory) Push(ev DecisionEvent) {
	if h.cap <= 0 {
		h.cap = 1
	}
	if len(h.events) < h.cap {
		h.events = append(h.events, DecisionEvent{})
	}
	copy(h.events[1:], h.events)
	h.events[0] = ev
}

// Events returns the retained events, newest first.
func (h *DecisionHistory) Events() []DecisionEvent {
	return h.events
}

// Len returns the number of retained events.
func (h *DecisionHistory) Len() int {
	return len(h.events)
}

// Latest returns the most recent event, or false when the history is empty.
func (h *DecisionHistory) Latest() (DecisionEvent, bool) {
	if len(h.events) == 0 {
		return DecisionEvent{}, false
	}
	return h.events[0], true
}

func (h DecisionHistory) clone() DecisionHistory {
	out := DecisionHistory{cap: h.cap}
	if len(h.events) > 0 {
		out.events = make([]DecisionEvent, len(h.events))
		copy(out.events, h.events)
	}
	return out
}

// MarshalJSON renders the ring as a plain array, newest first.
func (h DecisionHistory) MarshalJSON() ([]byte, error) {
	if len(h.events) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(h.events)
}

// FleetStats is derived fleet-wide state. It is always recomputed from the
// registry, never independently mutated, so it cannot drift from the
// sessions it summarizes. Distribution counts active sessions only and sums
// to ActiveSessions.
type FleetStats struct {
	TotalSessions  int          `json:"total_sessions"`
	ActiveSessions int          `json:"active_sessions"`
	TotalDecisions uint64       `json:"total_decisions"`
	Distribution   map[Tier]int `json:"distribution"`
}
