package model

import "strings"

// Tier is one of the four discrete UI fidelity levels assigned to a client.
// TierA is the richest presentation, TierD the most conservative.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

func (t Tier) String() string {
	return string(t)
}

// Rank orders tiers from most conservative (0) to richest (3).
// Unknown values rank below TierD so they never win an upgrade comparison.
func (t Tier) Rank() int {
	switch t {
	case TierA:
		return 3
	case TierB:
		return 2
	case TierC:
		return 1
	case TierD:
		return 0
	default:
		return -1
	}
}

// Richer reports whether t is a higher-fidelity tier than other.
func (t Tier) Richer(other Tier) bool {
	return t.Rank() > other.Rank()
}

func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// AllTiers lists the valid tiers in conservative-to-rich order. Used by the
// stats aggregator so every tier appears in the distribution, including zeros.
var AllTiers = []Tier{TierD, TierC, TierB, TierA}

// ParseTier validates a wire-format tier label. Labels are matched
// case-insensitively.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(s))
	return t, t.Valid()
}
