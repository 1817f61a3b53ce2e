package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_Rank(t *testing.T) {
	assert.Equal(t, 3, TierA.Rank())
	assert.Equal(t, 2, TierB.Rank())
	assert.Equal(t, 1, TierC.Rank())
	assert.Equal(t, 0, TierD.Rank())
	assert.Equal(t, -1, Tier("X").Rank())
}

func TestTier_Richer(t *testing.T) {
	assert.True(t, TierA.Richer(TierB))
	assert.True(t, TierB.Richer(TierD))
	assert.False(t, TierD.Richer(TierC))
	assert.False(t, TierA.Richer(TierA))
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input string
		want  Tier
		ok    bool
	}{
		{input: "A", want: TierA, ok: true},
		{input: "a", want: TierA, ok: true},
		{input: "b", want: TierB, ok: true},
		{input: "C", want: TierC, ok: true},
		{input: "d", want: TierD, ok: true},
		{input: ""},
		{input: "E"},
		{input: "AA"},
	}

	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			got, ok := ParseTier(tt.input)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAllTiers_CoversEveryValidTier(t *testing.T) {
	require.Len(t, AllTiers, 4)
	for _, tier := range AllTiers {
		assert.True(t, tier.Valid(), "tier %s", tier)
	}
}
