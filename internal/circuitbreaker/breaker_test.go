package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 5, b.failureThreshold)
	assert.Equal(t, 2, b.successThreshold)
	assert.Equal(t, 30*time.Second, b.openWindow)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenWindow: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	require.NoError(t, b.Allow(), "still closed below threshold")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New(Config{FailureThreshold: 3, OpenWindow: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	require.NoError(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterWindow(t *testing.T) {
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{FailureThreshold: 1, OpenWindow: 10 * time.Second}).
		WithClock(func() time.Time { return clock })

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	clock = clock.Add(11 * time.Second)
	require.NoError(t, b.Allow(), "elapsed window admits a probe")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{FailureThreshold: 1, OpenWindow: 10 * time.Second}).
		WithClock(func() time.Time { return clock })

	b.RecordFailure()
	clock = clock.Add(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)
}

func TestBreaker_HalfOpenSuccessesClose(t *testing.T) {
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, OpenWindow: 10 * time.Second}).
		WithClock(func() time.Time { return clock })

	b.RecordFailure()
	clock = clock.Add(11 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "one success is not enough")
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := New(Config{
		FailureThreshold: 1,
		OpenWindow:       time.Hour,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	b.RecordFailure()
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b := New(Config{FailureThreshold: 50, OpenWindow: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Allow()
				b.RecordSuccess()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}
