package healthgate

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// BreakerState represents the state of a service's circuit breaker.
type BreakerState int

const (
	// StateClosed means the service is probed normally.
	StateClosed BreakerState = iota

	// StateHalfOpen means a single trial probe is testing whether the service has recovered.
	StateHalfOpen

	// StateOpen means probes are skipped until the recovery timeout elapses.
	StateOpen
)

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its string form in JSON documents.
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the string form produced by MarshalText.
func (s *BreakerState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "half-open":
		*s = StateHalfOpen
	case "open":
		*s = StateOpen
	default:
		return fmt.Errorf("unknown breaker state %q", text)
	}
	return nil
}

// RegistryConfig holds circuit breaker registry configuration options.
type RegistryConfig struct {
	// OnStateChange is called whenever a service's breaker changes state.
	// It runs while that service's entry is locked and must not call back into the registry
	// for the same service.
	OnStateChange func(service string, from, to BreakerState)

	// Logger for breaker transitions and rejected attempts.
	// Default: slog.Default()
	Logger *slog.Logger

	// RecoveryTimeout is the minimum time spent open before a trial probe is admitted.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	// Default: 5
	FailureThreshold uint32
}

// RegistryOption is a functional option for configuring the circuit breaker registry.
type RegistryOption func(*RegistryConfig)

// WithFailureThreshold sets the number of consecutive failures that opens a breaker.
//
// Example:
//
//	healthgate.WithFailureThreshold(3)
func WithFailureThreshold(threshold uint32) RegistryOption {
	return func(c *RegistryConfig) {
		c.FailureThreshold = threshold
	}
}

// WithRecoveryTimeout sets how long a breaker stays open before admitting a trial probe.
// The trial is admitted once strictly more than timeout has elapsed since the breaker opened.
//
// Example:
//
//	healthgate.WithRecoveryTimeout(time.Minute)
func WithRecoveryTimeout(timeout time.Duration) RegistryOption {
	return func(c *RegistryConfig) {
		c.RecoveryTimeout = timeout
	}
}

// WithStateChangeHandler sets a callback for breaker state changes.
//
// Example:
//
//	healthgate.WithStateChangeHandler(func(service string, from, to healthgate.BreakerState) {
//	    log.Printf("breaker %s: %s -> %s", service, from, to)
//	})
func WithStateChangeHandler(fn func(service string, from, to BreakerState)) RegistryOption {
	return func(c *RegistryConfig) {
		c.OnStateChange = fn
	}
}

// WithRegistryLogger sets a custom logger for the registry.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(c *RegistryConfig) {
		c.Logger = logger
	}
}

// DefaultRegistryConfig returns registry configuration with sensible defaults.
func DefaultRegistryConfig() *RegistryConfig {
	return &RegistryConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		Logger:           slog.Default(),
	}
}

// ProbeConfig holds health probe configuration options.
type ProbeConfig struct {
	// Client performs the health check requests.
	// Default: a dedicated http.Client without its own timeout; each check is bounded by a
	// context deadline instead.
	Client *http.Client

	// Logger for probe outcomes.
	// Default: slog.Default()
	Logger *slog.Logger

	// Timeout bounds a single check when the caller passes a non-positive timeout.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxBodyBytes caps how much of a health response body is read.
	// Default: 1 MiB
	MaxBodyBytes int64

	// PreviewLength is the number of characters of an unparsable body kept for diagnostics.
	// Default: 200
	PreviewLength int
}

// ProbeOption is a functional option for configuring the health probe.
type ProbeOption func(*ProbeConfig)

// WithProbeTimeout sets the default timeout of a single health check.
//
// Example:
//
//	healthgate.WithProbeTimeout(5 * time.Second)
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(c *ProbeConfig) {
		c.Timeout = timeout
	}
}

// WithHTTPClient sets the HTTP client used for health checks.
func WithHTTPClient(client *http.Client) ProbeOption {
	return func(c *ProbeConfig) {
		c.Client = client
	}
}

// WithPreviewLength sets how many characters of an unparsable body are kept.
func WithPreviewLength(n int) ProbeOption {
	return func(c *ProbeConfig) {
		c.PreviewLength = n
	}
}

// WithProbeLogger sets a custom logger for the probe.
func WithProbeLogger(logger *slog.Logger) ProbeOption {
	return func(c *ProbeConfig) {
		c.Logger = logger
	}
}

// DefaultProbeConfig returns probe configuration with sensible defaults.
func DefaultProbeConfig() *ProbeConfig {
	return &ProbeConfig{
		Client:        &http.Client{},
		Logger:        slog.Default(),
		Timeout:       10 * time.Second,
		MaxBodyBytes:  1 << 20,
		PreviewLength: 200,
	}
}

// AggregatorConfig holds health aggregator configuration options.
type AggregatorConfig struct {
	// Now returns the evaluation timestamp.
	// Default: time.Now
	Now func() time.Time

	// Logger for evaluation summaries and recovered probe panics.
	// Default: slog.Default()
	Logger *slog.Logger

	// ProbeTimeout is passed to every health check.
	// Default: 10 seconds
	ProbeTimeout time.Duration

	// MaxConcurrentChecks bounds the number of health checks in flight during one evaluation.
	// Zero or negative means one concurrent check per service.
	// Default: 0
	MaxConcurrentChecks int
}

// AggregatorOption is a functional option for configuring the health aggregator.
type AggregatorOption func(*AggregatorConfig)

// WithCheckTimeout sets the timeout passed to each health check.
func WithCheckTimeout(timeout time.Duration) AggregatorOption {
	return func(c *AggregatorConfig) {
		c.ProbeTimeout = timeout
	}
}

// WithMaxConcurrentChecks bounds the health checks in flight during one evaluation.
//
// Example:
//
//	healthgate.WithMaxConcurrentChecks(16)
func WithMaxConcurrentChecks(n int) AggregatorOption {
	return func(c *AggregatorConfig) {
		c.MaxConcurrentChecks = n
	}
}

// WithClock sets the function used to timestamp evaluations.
func WithClock(now func() time.Time) AggregatorOption {
	return func(c *AggregatorConfig) {
		c.Now = now
	}
}

// WithAggregatorLogger sets a custom logger for the aggregator.
func WithAggregatorLogger(logger *slog.Logger) AggregatorOption {
	return func(c *AggregatorConfig) {
		c.Logger = logger
	}
}

// DefaultAggregatorConfig returns aggregator configuration with sensible defaults.
func DefaultAggregatorConfig() *AggregatorConfig {
	return &AggregatorConfig{
		Now:          time.Now,
		Logger:       slog.Default(),
		ProbeTimeout: 10 * time.Second,
	}
}

// RetryConfig holds retry configuration for dynamic configuration reads.
type RetryConfig struct {
	// ErrorClassifier determines which read errors are retried.
	// Default: DefaultErrorClassifier()
	ErrorClassifier ErrorClassifier

	// Logger for retry attempts.
	// Default: slog.Default()
	Logger *slog.Logger

	// Delay is the constant delay between attempts. Jitter of a tenth of Delay is added.
	// Default: 200 milliseconds
	Delay time.Duration

	// MaxAttempts is the maximum number of attempts (including the initial read).
	// Default: 2
	MaxAttempts int
}

// RetryOption is a functional option for configuring retry behavior.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the maximum number of read attempts.
//
// Example:
//
//	healthgate.WithMaxAttempts(3) // Try up to 3 times total
func WithMaxAttempts(attempts int) RetryOption {
	return func(c *RetryConfig) {
		c.MaxAttempts = attempts
	}
}

// WithConstantBackoff sets the delay between read attempts.
//
// Example:
//
//	healthgate.WithConstantBackoff(500 * time.Millisecond)
func WithConstantBackoff(delay time.Duration) RetryOption {
	return func(c *RetryConfig) {
		c.Delay = delay
	}
}

// WithErrorClassifier sets a custom classifier for retry decisions.
func WithErrorClassifier(classifier ErrorClassifier) RetryOption {
	return func(c *RetryConfig) {
		c.ErrorClassifier = classifier
	}
}

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryConfig) {
		c.Logger = logger
	}
}

// DefaultRetryConfig returns retry configuration with sensible defaults.
// Configuration reads sit on the request path, so the defaults keep the added latency small.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     2,
		Delay:           200 * time.Millisecond,
		ErrorClassifier: DefaultErrorClassifier(),
		Logger:          slog.Default(),
	}
}

// ResolverOption is a functional option for configuring the fallback resolver.
type ResolverOption func(*FallbackResolver)

// WithResolverLogger sets a custom logger for the fallback resolver.
func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *FallbackResolver) {
		r.logger = logger
	}
}

// HandlerOption is a functional option for configuring the request handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets a custom logger for the request handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}
