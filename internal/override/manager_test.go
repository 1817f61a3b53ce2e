package override

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiergate/tiergate/internal/domain/model"
	"github.com/tiergate/tiergate/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type reevalCall struct {
	clientID string
	cleared  bool
}

// fakeReevaluator records re-evaluation requests instead of classifying.
type fakeReevaluator struct {
	mu    sync.Mutex
	calls []reevalCall
}

func (f *fakeReevaluator) OnOverrideChange(_ context.Context, clientID string, cleared bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, reevalCall{clientID: clientID, cleared: cleared})
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *fakeReevaluator) {
	t.Helper()
	reg := registry.New(8, testLogger())
	eng := &fakeReevaluator{}
	m := NewManager(reg, testLogger())
	m.SetReevaluator(eng)
	return m, reg, eng
}

func TestSetTierOverride_PinsAndTriggersReevaluation(t *testing.T) {
	m, reg, eng := newTestManager(t)

	require.NoError(t, m.SetTierOverride(context.Background(), "client-1", "B"))

	sess, ok := reg.Get("client-1")
	require.True(t, ok, "override on an unknown client creates the session")
	require.NotNil(t, sess.OverrideTier)
	assert.Equal(t, model.TierB, *sess.OverrideTier)

	require.Len(t, eng.calls, 1)
	assert.Equal(t, reevalCall{clientID: "client-1", cleared: false}, eng.calls[0])
}

func TestSetTierOverride_AutoClearsPin(t *testing.T) {
	m, reg, eng := newTestManager(t)

	require.NoError(t, m.SetTierOverride(context.Background(), "client-1", "C"))
	require.NoError(t, m.SetTierOverride(context.Background(), "client-1", Auto))

	sess, _ := reg.Get("client-1")
	assert.Nil(t, sess.OverrideTier)

	require.Len(t, eng.calls, 2)
	assert.True(t, eng.calls[1].cleared)
}

func TestSetTierOverride_AutoWithoutExistingPinIsNotAClear(t *testing.T) {
	m, _, eng := newTestManager(t)

	require.NoError(t, m.SetTierOverride(context.Background(), "client-1", Auto))

	require.Len(t, eng.calls, 1)
	assert.False(t, eng.calls[0].cleared, "clearing nothing must not produce a reset decision")
}

func TestSetTierOverride_RejectsInvalidTier(t *testing.T) {
	m, _, eng := newTestManager(t)

	assert.Error(t, m.SetTierOverride(context.Background(), "client-1", "Z"))
	assert.Error(t, m.SetTierOverride(context.Background(), "client-1", ""))
	assert.Empty(t, eng.calls, "invalid input must not reach the engine")
}

func TestSetMetricsOverride_NormalizesSnapshot(t *testing.T) {
	m, reg, eng := newTestManager(t)

	synthetic := &model.TelemetrySnapshot{
		BatteryPercent: 500,
		CPUScore:       50,
		Network:        "bogus",
		Online:         true,
	}
	require.NoError(t, m.SetMetricsOverride(context.Background(), "client-1", synthetic))

	sess, _ := reg.Get("client-1")
	require.NotNil(t, sess.OverrideSnapshot)
	assert.Equal(t, 100.0, sess.OverrideSnapshot.BatteryPercent)
	assert.Equal(t, model.NetworkOffline, sess.OverrideSnapshot.Network)
	assert.False(t, sess.OverrideSnapshot.ReceivedAt.IsZero())

	require.Len(t, eng.calls, 1)
}

func TestSetMetricsOverride_NilRestoresLiveTelemetry(t *testing.T) {
	m, reg, eng := newTestManager(t)

	synthetic := &model.TelemetrySnapshot{CPUScore: 10, Online: true}
	require.NoError(t, m.SetMetricsOverride(context.Background(), "client-1", synthetic))
	require.NoError(t, m.SetMetricsOverride(context.Background(), "client-1", nil))

	sess, _ := reg.Get("client-1")
	assert.Nil(t, sess.OverrideSnapshot)

	require.Len(t, eng.calls, 2)
	assert.True(t, eng.calls[1].cleared)
}
