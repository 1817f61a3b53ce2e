package event

import (
	"time"

	"github.com/tiergate/tiergate/internal/domain/model"
)

// Type discriminates the envelope payload.
type Type string

const (
	// TypeDecision carries a tier decision for one client.
	TypeDecision Type = "decision"
	// TypeConnected signals a new client session.
	TypeConnected Type = "client_connected"
	// TypeDisconnected signals an explicit session removal.
	TypeDisconnected Type = "client_disconnected"
	// TypeInactive signals a session crossing the liveness timeout.
	TypeInactive Type = "client_inactive"
	// TypeStats carries a periodic fleet statistics sample.
	TypeStats Type = "fleet_stats"
)

// Envelope is the unit of fan-out on the broadcast channel and the event
// mirror transport. Exactly one payload field is set, matching Type.
type Envelope struct {
	Type      Type                 `json:"type"`
	ClientID  string               `json:"client_id,omitempty"`
	Decision  *model.DecisionEvent `json:"decision,omitempty"`
	Stats     *model.FleetStats    `json:"stats,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Decision wraps a decision event for fan-out.
func Decision(ev model.DecisionEvent) Envelope {
	return Envelope{
		Type:      TypeDecision,
		ClientID:  ev.ClientID,
		Decision:  &ev,
		Timestamp: ev.Timestamp,
	}
}

// Lifecycle builds a connected/disconnected/inactive envelope.
func Lifecycle(t Type, clientID string, at time.Time) Envelope {
	return Envelope{Type: t, ClientID: clientID, Timestamp: at}
}

// Stats wraps a fleet statistics sample for fan-out.
func Stats(stats model.FleetStats, at time.Time) Envelope {
	return Envelope{Type: TypeStats, Stats: &stats, Timestamp: at}
}
