package download

import (
	"context"
	"errors"
	"time"

	"github.com/civicdata/fiscalharvest/internal/harvest"
)

// Default retry budget for direct transfers.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 2 * time.Second
)

// RetryPolicy wraps whole download attempts with a bounded fixed-delay retry.
// Mid-stream failures need this layer; transport-level retry only covers
// connection establishment.
type RetryPolicy struct {
	maxRetries int
	delay      time.Duration
}

// NewRetryPolicy builds a fixed-delay policy. Negative retries or a
// nonpositive delay fall back to the defaults.
func NewRetryPolicy(maxRetries int, delay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &RetryPolicy{maxRetries: maxRetries, delay: delay}
}

// ShouldRetry decides whether the failed attempt is worth repeating.
// Challenges are excluded: identical requests trip the same interstitial.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, harvest.ErrChallengeDetected) {
		return false
	}
	return true
}

// Delay returns the fixed wait before the next attempt.
func (p *RetryPolicy) Delay() time.Duration {
	return p.delay
}
