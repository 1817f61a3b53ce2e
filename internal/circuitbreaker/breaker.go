// Package circuitbreaker guards fire-and-forget outbound calls, the event
// mirror in particular, so a dead backend costs one failed probe per open
// window instead of a timeout per decision.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	// StateClosed passes all calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the open window elapses.
	StateOpen
	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures a breaker. Zero fields take the defaults.
type Config struct {
	// FailureThreshold consecutive failures open the breaker (default 5).
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it (default 2).
	SuccessThreshold int
	// OpenWindow is how long the breaker stays open before probing
	// (default 30s).
	OpenWindow time.Duration
	// OnStateChange, when set, observes every transition.
	OnStateChange func(from, to State)
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	successes     int
	lastFailureAt time.Time

	failureThreshold int
	successThreshold int
	openWindow       time.Duration
	onStateChange    func(from, to State)
	nowFunc          func() time.Time
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenWindow <= 0 {
		cfg.OpenWindow = 30 * time.Second
	}
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openWindow:       cfg.OpenWindow,
		onStateChange:    cfg.OnStateChange,
		nowFunc:          time.Now,
	}
}

// WithClock overrides the breaker clock. Test hook.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.nowFunc = now
	return b
}

// Allow reports whether a call may proceed. An open breaker whose window
// has elapsed moves to half-open and admits the call as a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.nowFunc().Sub(b.lastFailureAt) > b.openWindow {
			b.transition(StateHalfOpen)
			return nil
		}
		return ErrOpen
	}
	return nil
}

// RecordSuccess feeds back a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.transition(StateClosed)
		}
	}
}

// RecordFailure feeds back a failed call. A half-open failure reopens
// immediately; closed failures open once the threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0
	b.lastFailureAt = b.nowFunc()

	switch {
	case b.state == StateHalfOpen:
		b.transition(StateOpen)
	case b.state == StateClosed && b.failures >= b.failureThreshold:
		b.transition(StateOpen)
	}
}

// State returns the current position, applying the open-to-half-open
// timeout transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.nowFunc().Sub(b.lastFailureAt) > b.openWindow {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.successes = 0
	if to == StateClosed {
		b.failures = 0
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
