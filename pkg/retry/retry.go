// Package retry provides the backoff policy applied to every external call
// the engine makes (embedding provider, vector index).
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/lifelog-ai/recall/pkg/observability/logging"
)

// Policy describes how an unreliable operation is attempted.
//
//	MaxAttempts is the total number of tries, including the first.
//	BaseDelay is the wait before the second attempt; it doubles per attempt.
//	Jitter adds a random fraction of the delay to spread out retries.
//	Timeout bounds each individual attempt.
//	RetryIf decides whether an error is worth retrying; nil retries all.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      bool
	Timeout     time.Duration
	RetryIf     func(error) bool
}

// Default returns the policy used across the engine: 3 attempts, 100ms
// base delay with jitter, 30s per attempt.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Jitter:      true,
		Timeout:     30 * time.Second,
	}
}

// Do runs op under the policy. Each attempt gets its own deadline; between
// attempts Do waits with exponential backoff, honoring ctx cancellation.
// It returns nil on the first success, or the last error once attempts are
// exhausted or the error is not retryable.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if p.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		lastErr = op(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if p.RetryIf != nil && !p.RetryIf(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			logging.Warnf("retry: %s failed after %d attempts: %v", name, attempts, lastErr)
			return lastErr
		}

		delay := p.BaseDelay * time.Duration(1<<uint(attempt))
		if p.Jitter && delay > 0 {
			delay += time.Duration(rand.Int63n(int64(delay)))
		}
		logging.Debugf("retry: %s attempt %d/%d failed, retrying in %v: %v",
			name, attempt+1, attempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s cancelled during retry: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

// transientPatterns are error message fragments that indicate a failure
// worth retrying against the vector index.
var transientPatterns = []string{
	"connection",
	"timeout",
	"deadline exceeded",
	"unavailable",
	"temporary",
	"rate limit",
	"too many requests",
	"server error",
	"internal error",
	"network",
	"broken pipe",
	"connection reset",
	"connection refused",
}

// IsTransient reports whether an error looks like a transient provider
// failure based on its message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
