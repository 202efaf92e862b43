package healthgate

import (
	"context"
	"log/slog"

	"github.com/sethvargo/go-retry"
)

// RetryingSource wraps a KVSource with bounded retries of transient read failures.
// It uses a constant backoff with jitter so concurrent gateways do not retry in lockstep.
type RetryingSource struct {
	source     KVSource
	config     *RetryConfig
	logger     *slog.Logger
	classifier ErrorClassifier
}

// NewRetryingSource creates a retrying wrapper around source.
//
// Example:
//
//	source := healthgate.NewRetryingSource(
//	    consulSource,
//	    healthgate.WithMaxAttempts(3),
//	    healthgate.WithConstantBackoff(250*time.Millisecond),
//	)
func NewRetryingSource(source KVSource, opts ...RetryOption) *RetryingSource {
	config := DefaultRetryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier()
	}
	if config.Delay <= 0 {
		config.Delay = DefaultRetryConfig().Delay
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	return &RetryingSource{
		source:     source,
		config:     config,
		logger:     config.Logger,
		classifier: config.ErrorClassifier,
	}
}

// List implements KVSource, retrying retryable errors up to MaxAttempts reads in total.
func (s *RetryingSource) List(ctx context.Context, prefix string) (map[string]string, error) {
	var entries map[string]string
	var attempts int

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempts++

		result, err := s.source.List(ctx, prefix)
		if err == nil {
			if attempts > 1 {
				s.logger.Info("configuration read succeeded after retry",
					"prefix", prefix,
					"attempts", attempts)
			}
			entries = result
			return nil
		}

		if !s.classifier.IsRetryable(err) {
			s.logger.Debug("non-retryable configuration read error, giving up",
				"prefix", prefix,
				"error", err,
				"attempts", attempts)
			return err
		}

		s.logger.Debug("retrying configuration read after delay",
			"prefix", prefix,
			"attempt", attempts,
			"error", err)

		return retry.RetryableError(err)
	})
	if err != nil {
		s.logger.Warn("configuration read failed",
			"prefix", prefix,
			"attempts", attempts,
			"error", err)
		return nil, err
	}

	return entries, nil
}

// backoff returns a fresh constant backoff; retry backoffs are stateful and must not be
// shared across calls.
func (s *RetryingSource) backoff() retry.Backoff {
	maxAttempts := s.config.MaxAttempts
	if maxAttempts > 100 {
		maxAttempts = 100
	}

	var b retry.Backoff = retry.NewConstant(s.config.Delay)
	if jitter := s.config.Delay / 10; jitter > 0 {
		b = retry.WithJitter(jitter, b)
	}

	// retry.Do counts the initial attempt, so the retry budget is one less than the attempts.
	return retry.WithMaxRetries(uint64(maxAttempts-1), b) // #nosec G115 - bounds checked above
}
