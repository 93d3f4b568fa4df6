// Package retry re-runs content storage uploads that fail for transient
// reasons. Contract calls are never retried here: a submitted transaction is
// reconciled by the listing service instead of being sent twice.
package retry

import (
	"context"
	"log/slog"
)

// Strategy runs an upload with some retry policy
type Strategy interface {
	// Execute runs operation until it succeeds or the policy gives up
	Execute(ctx context.Context, operation Operation) error

	// Name identifies the policy in logs
	Name() string
}

// Operation is one upload attempt
type Operation func() error

// Do runs op under strategy and returns the value of the attempt that
// succeeded
func Do[T any](ctx context.Context, strategy Strategy, op func() (T, error)) (T, error) {
	var result T
	err := strategy.Execute(ctx, func() error {
		value, err := op()
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// NewStrategy picks the upload retry policy for config
func NewStrategy(config Config) Strategy {
	if !config.Enabled || config.MaxRetries == 0 {
		slog.Info("Upload retries disabled")
		return NewNoRetryStrategy()
	}

	slog.Info("Upload retries enabled",
		"max_retries", config.MaxRetries,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)
	return NewExponentialBackoffStrategy(config.MaxRetries, config.InitialDelay, config.MaxDelay)
}
