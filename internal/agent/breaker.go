// ABOUTME: Circuit breaker guarding the remote agent transport
// ABOUTME: Opens after consecutive hard failures, half-open probe after cool-down

package agent

import (
	"log/slog"
	"sync"
	"time"
)

// breakerState is the breaker's position in its closed/open/half-open cycle.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker tracks consecutive hard failures of the agent transport. After
// Threshold consecutive failures it opens and fails calls immediately for
// the cool-down window, then admits a single probe. State transitions are a
// pure function of the outcome history, independent of the network call.
type Breaker struct {
	mu            sync.Mutex
	state         breakerState
	consecutive   int
	openedAt      time.Time
	threshold     int
	cooldown      time.Duration
	now           func() time.Time // injectable for tests
	logger        *slog.Logger
	probeInFlight bool
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for the cool-down window.
func NewBreaker(threshold int, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger.With("component", "breaker"),
	}
}

// Allow reports whether a call may proceed. While open, calls are refused
// until the cool-down elapses; then exactly one probe is admitted and the
// breaker moves to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probeInFlight = true
		b.logger.Info("breaker half-open, admitting probe")
		return true
	case breakerHalfOpen:
		// One probe at a time.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure streak and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != breakerClosed {
		b.logger.Info("breaker closed after successful call")
	}
	b.state = breakerClosed
	b.consecutive = 0
	b.probeInFlight = false
}

// RecordFailure counts a hard failure (Fatal outcome or exhausted retries).
// A failed half-open probe reopens immediately; in closed state the breaker
// opens once the streak reaches the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutive++
	switch b.state {
	case breakerHalfOpen:
		b.state = breakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		b.logger.Warn("breaker reopened after failed probe")
	case breakerClosed:
		if b.consecutive >= b.threshold {
			b.state = breakerOpen
			b.openedAt = b.now()
			b.logger.Warn("breaker opened",
				"consecutive_failures", b.consecutive,
				"cooldown", b.cooldown)
		}
	}
}
