package registry

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiergate/tiergate/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() model.TelemetrySnapshot {
	return model.TelemetrySnapshot{
		BatteryPercent: 80,
		CPUScore:       90,
		FPS:            60,
		Network:        model.Network5G,
		Online:         true,
	}
}

func TestUpsert_CreatesConservativeSession(t *testing.T) {
	r := New(8, testLogger())

	sess, created := r.Upsert("client-1", testSnapshot())
	require.True(t, created)
	assert.Equal(t, model.TierD, sess.Tier)
	assert.True(t, sess.TierSince.IsZero())
	assert.True(t, sess.Active)
	assert.Equal(t, uint64(1), sess.UpdateCount)

	sess, created = r.Upsert("client-1", testSnapshot())
	require.False(t, created)
	assert.Equal(t, uint64(2), sess.UpdateCount)
	assert.Equal(t, 1, r.Len())
}

func TestGet_UnknownClient(t *testing.T) {
	r := New(8, testLogger())
	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New(8, testLogger())
	r.Upsert("client-1", testSnapshot())

	a, ok := r.Get("client-1")
	require.True(t, ok)
	a.Tier = model.TierA

	b, ok := r.Get("client-1")
	require.True(t, ok)
	assert.Equal(t, model.TierD, b.Tier, "mutating a returned session must not affect the registry")
}

func TestMutate_OrdersConcurrentUpdates(t *testing.T) {
	r := New(8, testLogger())

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				r.Upsert("client-1", testSnapshot())
			}
		}()
	}
	wg.Wait()

	sess, ok := r.Get("client-1")
	require.True(t, ok)
	assert.Equal(t, uint64(workers*perWorker), sess.UpdateCount, "no update may be lost")
}

func TestMutate_ConcurrentDistinctClients(t *testing.T) {
	r := New(8, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Upsert(fmt.Sprintf("client-%d", n), testSnapshot())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 32, r.Len())
}

func TestMarkInactive(t *testing.T) {
	r := New(8, testLogger())
	r.Upsert("client-1", testSnapshot())

	require.True(t, r.MarkInactive("client-1"))
	assert.False(t, r.MarkInactive("client-1"), "already inactive")
	assert.False(t, r.MarkInactive("nope"))

	sess, ok := r.Get("client-1")
	require.True(t, ok)
	assert.False(t, sess.Active)
}

func TestRemove(t *testing.T) {
	r := New(8, testLogger())
	r.Upsert("client-1", testSnapshot())

	require.True(t, r.Remove("client-1"))
	assert.False(t, r.Remove("client-1"))
	_, ok := r.Get("client-1")
	assert.False(t, ok)

	// A returning client cold-starts.
	sess, created := r.Upsert("client-1", testSnapshot())
	require.True(t, created)
	assert.Equal(t, uint64(1), sess.UpdateCount)
}

func TestRemove_RacingMutateRecreates(t *testing.T) {
	r := New(8, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		r.Upsert("client-1", testSnapshot())
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Remove("client-1")
		}()
		go func() {
			defer wg.Done()
			r.Upsert("client-1", testSnapshot())
		}()
		wg.Wait()
	}

	// Whatever the interleaving, the registry must stay internally
	// consistent: any surviving session is retrievable.
	if sess, ok := r.Get("client-1"); ok {
		assert.Equal(t, "client-1", sess.ID)
	}
}

func TestSweepExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	r := New(8, testLogger()).WithClock(func() time.Time { return clock })

	r.Upsert("stale", testSnapshot())
	clock = clock.Add(31 * time.Second)
	r.Upsert("fresh", testSnapshot())

	expired := r.SweepExpired(30 * time.Second)
	require.Equal(t, []string{"stale"}, expired)

	stale, _ := r.Get("stale")
	assert.False(t, stale.Active)
	fresh, _ := r.Get("fresh")
	assert.True(t, fresh.Active)

	// Second sweep is a no-op; already-inactive sessions are not re-reported.
	assert.Empty(t, r.SweepExpired(30*time.Second))
}

func TestStats_EmptyRegistry(t *testing.T) {
	r := New(8, testLogger())
	stats := r.Stats(30 * time.Second)

	assert.Zero(t, stats.TotalSessions)
	assert.Zero(t, stats.ActiveSessions)
	assert.Zero(t, stats.TotalDecisions)
	require.Len(t, stats.Distribution, 4)
	for _, tier := range model.AllTiers {
		assert.Zero(t, stats.Distribution[tier])
	}
}

func TestStats_DistributionSumsToActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	r := New(8, testLogger()).WithClock(func() time.Time { return clock })

	r.Upsert("a", testSnapshot())
	r.Mutate("a", func(s *model.ClientSession) {
		s.Tier = model.TierA
		s.DecisionCount = 3
	})
	r.Upsert("b", testSnapshot())
	r.Mutate("b", func(s *model.ClientSession) {
		s.Tier = model.TierB
		s.DecisionCount = 2
	})
	r.Upsert("stale", testSnapshot())
	r.Mutate("stale", func(s *model.ClientSession) {
		s.DecisionCount = 1
	})
	r.MarkInactive("stale")

	stats := r.Stats(30 * time.Second)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, uint64(6), stats.TotalDecisions, "decision totals include inactive sessions")

	sum := 0
	for _, n := range stats.Distribution {
		sum += n
	}
	assert.Equal(t, stats.ActiveSessions, sum)
	assert.Equal(t, 1, stats.Distribution[model.TierA])
	assert.Equal(t, 1, stats.Distribution[model.TierB])
}

func TestStats_TimedOutSessionNotActive(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	r := New(8, testLogger()).WithClock(func() time.Time { return clock })

	r.Upsert("a", testSnapshot())
	clock = clock.Add(45 * time.Second)

	// Not yet swept, but past the timeout: stats already exclude it.
	stats := r.Stats(30 * time.Second)
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Zero(t, stats.ActiveSessions)
}
