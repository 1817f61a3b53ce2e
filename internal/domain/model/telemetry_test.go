package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNetworkClass_Rank(t *testing.T) {
	assert.Equal(t, 5, Network5G.Rank())
	assert.Equal(t, 4, Network4G.Rank())
	assert.Equal(t, 3, Network3G.Rank())
	assert.Equal(t, 2, Network2G.Rank())
	assert.Equal(t, 1, NetworkSlow2G.Rank())
	assert.Equal(t, 0, NetworkOffline.Rank())
	assert.Equal(t, 0, NetworkClass("wimax").Rank())
}

func TestNormalize_ClampsRanges(t *testing.T) {
	now := time.Now()
	s := TelemetrySnapshot{
		BatteryPercent: 150,
		CPUScore:       -5,
		FPS:            240,
		Network:        Network4G,
		Online:         true,
	}.Normalize(now)

	assert.Equal(t, 100.0, s.BatteryPercent)
	assert.Equal(t, 0.0, s.CPUScore)
	assert.Equal(t, 60.0, s.FPS)
	assert.Equal(t, Network4G, s.Network)
	assert.Equal(t, now, s.ReceivedAt)
}

func TestNormalize_UnknownNetworkBecomesOffline(t *testing.T) {
	s := TelemetrySnapshot{Network: "lte-advanced"}.Normalize(time.Now())
	assert.Equal(t, NetworkOffline, s.Network)

	s = TelemetrySnapshot{}.Normalize(time.Now())
	assert.Equal(t, NetworkOffline, s.Network)
}

func TestNormalize_MemoryUsedCappedAtTotal(t *testing.T) {
	s := TelemetrySnapshot{MemoryTotal: 1024, MemoryUsed: 4096}.Normalize(time.Now())
	assert.Equal(t, uint64(1024), s.MemoryUsed)
}

func TestNormalize_KeepsExplicitReceivedAt(t *testing.T) {
	reported := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := TelemetrySnapshot{ReceivedAt: reported}.Normalize(time.Now())
	assert.Equal(t, reported, s.ReceivedAt)
}

func TestMemoryPressure(t *testing.T) {
	tests := []struct {
		name  string
		total uint64
		used  uint64
		want  float64
	}{
		{name: "zero total reports zero", total: 0, used: 100, want: 0},
		{name: "half used", total: 200, used: 100, want: 0.5},
		{name: "fully used", total: 64, used: 64, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := TelemetrySnapshot{MemoryTotal: tt.total, MemoryUsed: tt.used}
			assert.InDelta(t, tt.want, s.MemoryPressure(), 1e-9)
		})
	}
}
