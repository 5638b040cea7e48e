// ABOUTME: Retry policy for agent calls as a pure function of attempt number
// ABOUTME: Exponential backoff with full jitter, bounded by a configurable ceiling

package agent

import (
	"math/rand"
	"time"
)

// RetryPolicy decides how many attempts a call gets and how long to wait
// between them. It holds no call state, so the same value serves every
// concurrent call.
type RetryPolicy struct {
	// MaxAttempts is the total attempt budget, including the first call.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each subsequent
	// retry doubles it up to BackoffCeiling.
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
}

// Documented retry defaults.
const (
	defaultMaxAttempts    = 3
	defaultBackoffBase    = 500 * time.Millisecond
	defaultBackoffCeiling = 10 * time.Second
)

// DefaultRetryPolicy matches the documented defaults: three attempts,
// 500ms base, 10s ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    defaultMaxAttempts,
		BackoffBase:    defaultBackoffBase,
		BackoffCeiling: defaultBackoffCeiling,
	}
}

// Delay returns the backoff before retry number retry (1-based, so retry 1
// follows the first failed attempt). Full jitter: a uniform draw from
// (0, cappedExponential]. A partially populated policy is tolerated: an
// unset base or ceiling falls back to the defaults, so Delay never has to
// draw from an empty range.
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	base := p.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	ceiling := p.BackoffCeiling
	if ceiling <= 0 {
		ceiling = defaultBackoffCeiling
	}
	d := base << (retry - 1)
	if d > ceiling || d <= 0 {
		d = ceiling
	}
	return time.Duration(rand.Int63n(int64(d))) + 1
}
