package model

import "time"

// Policy is the tunable threshold table driving tier classification. The
// zero value is not usable; start from DefaultPolicy and override fields
// through configuration.
type Policy struct {
	// Any of these forces TierD.
	CriticalBatteryPct float64
	CriticalCPUScore   float64

	// Any of these caps the result at TierC.
	LowBatteryPct      float64
	LowCPUScore        float64
	HighMemoryPressure float64

	// All of these gate TierA.
	FullCPUScore float64
	FullFPS      float64

	// Minimum time a session must have dwelled in its current tier before
	// an upgrade is applied. Downgrades are never delayed.
	UpgradeDwell time.Duration
}

// DefaultPolicy returns the stock threshold table.
func DefaultPolicy() Policy {
	return Policy{
		CriticalBatteryPct: 15,
		CriticalCPUScore:   25,
		LowBatteryPct:      35,
		LowCPUScore:        45,
		HighMemoryPressure: 0.9,
		FullCPUScore:       70,
		FullFPS:            45,
		UpgradeDwell:       10 * time.Second,
	}
}

// Classify maps a normalized snapshot plus the session's previous tier and
// dwell time to a tier. It is a pure function: identical inputs always yield
// the same tier.
//
// Rules are evaluated top-down, most conservative first; the first match
// wins. A downgrade (toward D) applies immediately. An upgrade (toward A)
// applies only once the session has dwelled in its current tier for at least
// p.UpgradeDwell, which keeps transient metric spikes from causing tier
// oscillation while leaving degradation fully responsive.
func (p Policy) Classify(s TelemetrySnapshot, previous Tier, dwell time.Duration) Tier {
	target := p.Target(s)

	if target.Richer(previous) && dwell < p.UpgradeDwell {
		return previous
	}
	return target
}

// Target applies the threshold table without hysteresis.
func (p Policy) Target(s TelemetrySnapshot) Tier {
	switch {
	case !s.Online,
		s.Network.Rank() <= Network2G.Rank(),
		s.BatteryPercent < p.CriticalBatteryPct && !s.Charging,
		s.CPUScore < p.CriticalCPUScore:
		return TierD

	case s.BatteryPercent < p.LowBatteryPct && !s.Charging,
		s.Network == Network3G,
		s.CPUScore < p.LowCPUScore,
		s.MemoryPressure() >= p.HighMemoryPressure:
		return TierC

	case s.CPUScore >= p.FullCPUScore &&
		s.FPS >= p.FullFPS &&
		s.Network.Rank() >= Network4G.Rank() &&
		(s.BatteryPercent >= p.LowBatteryPct || s.Charging):
		return TierA

	case s.CPUScore >= p.LowCPUScore && s.Network.Rank() >= Network3G.Rank():
		return TierB

	default:
		return TierD
	}
}
