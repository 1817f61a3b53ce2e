package model

import "time"

// NetworkClass is the effective connection type reported by a client.
type NetworkClass string

const (
	Network5G      NetworkClass = "5g"
	Network4G      NetworkClass = "4g"
	Network3G      NetworkClass = "3g"
	Network2G      NetworkClass = "2g"
	NetworkSlow2G  NetworkClass = "slow-2g"
	NetworkOffline NetworkClass = "offline"
)

func (n NetworkClass) String() string {
	return string(n)
}

// Rank orders network classes from worst (0 = offline) to best (5 = 5g).
// Unknown values rank as offline.
func (n NetworkClass) Rank() int {
	switch n {
	case Network5G:
		return 5
	case Network4G:
		return 4
	case Network3G:
		return 3
	case Network2G:
		return 2
	case NetworkSlow2G:
		return 1
	case NetworkOffline:
		return 0
	default:
		return 0
	}
}

func (n NetworkClass) Valid() bool {
	switch n {
	case Network5G, Network4G, Network3G, Network2G, NetworkSlow2G, NetworkOffline:
		return true
	default:
		return false
	}
}

const (
	maxBatteryPercent = 100
	maxCPUScore       = 100
	maxFPS            = 60
)

// TelemetrySnapshot is a validated point-in-time reading of one client's
// device and network state. Raw client payloads are loosely typed; Normalize
// is applied exactly once at the ingest boundary so downstream logic never
// re-validates ranges.
type TelemetrySnapshot struct {
	BatteryPercent float64      `json:"battery_percent"`
	Charging       bool         `json:"charging"`
	CPUScore       float64      `json:"cpu_score"`
	FPS            float64      `json:"fps"`
	MemoryTotal    uint64       `json:"memory_total"`
	MemoryUsed     uint64       `json:"memory_used"`
	Network        NetworkClass `json:"network"`
	Online         bool         `json:"online"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// Normalize clamps numeric fields to their declared ranges and substitutes
// conservative defaults for missing fields. A missing network class is
// treated as offline: a degraded decision is always safer than no decision.
func (s TelemetrySnapshot) Normalize(now time.Time) TelemetrySnapshot {
	s.BatteryPercent = clamp(s.BatteryPercent, 0, maxBatteryPercent)
	s.CPUScore = clamp(s.CPUScore, 0, maxCPUScore)
	s.FPS = clamp(s.FPS, 0, maxFPS)
	if !s.Network.Valid() {
		s.Network = NetworkOffline
	}
	if s.MemoryUsed > s.MemoryTotal {
		s.MemoryUsed = s.MemoryTotal
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = now
	}
	return s
}

// MemoryPressure returns the used/total ratio in [0,1]. Zero total reports
// zero pressure rather than dividing by zero; total memory is optional
// telemetry on many clients.
func (s TelemetrySnapshot) MemoryPressure() float64 {
	if s.MemoryTotal == 0 {
		return 0
	}
	return float64(s.MemoryUsed) / float64(s.MemoryTotal)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
