package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketplace/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoffStrategy retries recoverable failures with exponentially
// growing, jittered delays
type ExponentialBackoffStrategy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewExponentialBackoffStrategy creates a new ExponentialBackoffStrategy
func NewExponentialBackoffStrategy(maxRetries int, initialDelay, maxDelay time.Duration) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		maxRetries:   maxRetries,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// Execute runs operation until it succeeds, fails with an error that is not
// recoverable, or maxRetries retries are used up
func (s *ExponentialBackoffStrategy) Execute(ctx context.Context, operation Operation) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialDelay
	policy.MaxInterval = s.maxDelay
	policy.MaxElapsedTime = 0 // bounded by maxRetries instead

	attempts := 0
	var lastErr error
	wrapped := func() error {
		attempts++
		err := operation()
		lastErr = err
		if err != nil && !IsRecoverable(err) {
			slog.Debug("Non-recoverable error, failing immediately", "error", err, "attempt", attempts)
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		slog.Warn("Operation failed, retrying with exponential backoff",
			"attempt", attempts,
			"max_attempts", s.maxRetries+1,
			"retry_in_ms", delay.Milliseconds(),
			"error", err)
	}

	policyWithLimits := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxRetries)), ctx)
	err := backoff.RetryNotify(wrapped, policyWithLimits, notify)
	switch {
	case err == nil:
		if attempts > 1 {
			slog.Info("Operation succeeded after retry", "attempt", attempts, "total_attempts", s.maxRetries+1)
		}
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("context cancelled during retry: %w", errors.Join(ctx.Err(), lastErr))
	case !IsRecoverable(err):
		return err
	}
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// Name returns the strategy name
func (s *ExponentialBackoffStrategy) Name() string {
	return "ExponentialBackoff"
}

// recoverablePatterns are transport failures worth another attempt
var recoverablePatterns = []string{
	"connection reset by peer",
	"connection refused",
	"temporary failure",
	"network is unreachable",
	"broken pipe",
	"i/o timeout",
	"tls handshake timeout",
	"no such host",
	"connection timed out",
	"unexpected eof",
}

// IsRecoverable determines if an error is transient and worth retrying.
// Storage unavailability is recoverable; user decisions and contract verdicts never are.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, models.ErrUserRejected),
		errors.Is(err, models.ErrReverted),
		errors.Is(err, models.ErrSessionChanged),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, models.ErrStorageUnavailable):
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range recoverablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
