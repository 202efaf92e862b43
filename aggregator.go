package healthgate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"golang.org/x/sync/errgroup"
)

// BreakerRegistry is the part of CircuitBreakerRegistry the aggregator depends on.
type BreakerRegistry interface {
	ShouldAttempt(service string) bool
	RecordResult(service string, success bool)
	Snapshot(service string) BreakerSnapshot
}

// Evaluator computes the aggregate health of a set of services.
type Evaluator interface {
	Evaluate(ctx context.Context, services map[string]string) AggregateHealthResponse
}

// HealthAggregator evaluates every configured service through its circuit breaker and
// classifies the group.
type HealthAggregator struct {
	breakers BreakerRegistry
	probe    Prober
	config   *AggregatorConfig
	logger   *slog.Logger
}

// NewHealthAggregator creates an aggregator probing through probe and guarding each service
// with its breaker in breakers.
//
// Example:
//
//	aggregator := healthgate.NewHealthAggregator(
//	    healthgate.NewCircuitBreakerRegistry(),
//	    healthgate.NewHealthProbe(),
//	    healthgate.WithCheckTimeout(10*time.Second),
//	)
func NewHealthAggregator(breakers BreakerRegistry, probe Prober, opts ...AggregatorOption) *HealthAggregator {
	config := DefaultAggregatorConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = DefaultAggregatorConfig().Now
	}

	return &HealthAggregator{
		breakers: breakers,
		probe:    probe,
		config:   config,
		logger:   config.Logger,
	}
}

// Evaluate checks every service concurrently and builds the aggregate response.
//
// Per service: an empty URL is reported unknown and not checked; a service whose breaker
// rejects the attempt is reported circuit_open without a probe and without touching the
// breaker; otherwise the service is probed and the outcome recorded on its breaker.
func (a *HealthAggregator) Evaluate(ctx context.Context, services map[string]string) AggregateHealthResponse {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]HealthCheckResult, len(names))

	var g errgroup.Group
	if a.config.MaxConcurrentChecks > 0 {
		g.SetLimit(a.config.MaxConcurrentChecks)
	}
	for i, name := range names {
		g.Go(func() error {
			results[i] = a.evaluateService(ctx, name, services[name])
			return nil
		})
	}
	_ = g.Wait()

	response := AggregateHealthResponse{
		Timestamp: a.config.Now().UTC(),
		Services:  make(map[string]HealthCheckResult, len(names)),
	}

	impaired := false
	for i, name := range names {
		result := results[i]
		response.Services[name] = result

		switch result.Status {
		case StatusHealthy:
			response.Summary.TotalServices++
			response.Summary.HealthyServices++
		case StatusUnhealthy, StatusCircuitOpen:
			response.Summary.TotalServices++
			impaired = true
		}
	}

	response.Status, response.Summary.HealthyRatio = classify(
		response.Summary.TotalServices,
		response.Summary.HealthyServices,
		impaired,
	)

	a.logger.Debug("health evaluation complete",
		"status", response.Status,
		"total_services", response.Summary.TotalServices,
		"healthy_services", response.Summary.HealthyServices)

	return response
}

// evaluateService runs the breaker-guarded check of a single service.
func (a *HealthAggregator) evaluateService(ctx context.Context, name, url string) HealthCheckResult {
	if url == "" {
		snapshot := a.breakers.Snapshot(name)
		return HealthCheckResult{
			Status:         StatusUnknown,
			Error:          "service URL not configured",
			CircuitBreaker: breakerStatus(snapshot),
		}
	}

	if !a.breakers.ShouldAttempt(name) {
		snapshot := a.breakers.Snapshot(name)
		err := jperrors.NewCircuitBreakerError(
			"health check skipped",
			"health_check",
			snapshot.State.String(),
			jperrors.WithCounts(jperrors.CircuitCounts{
				ConsecutiveFailures: snapshot.FailureCount,
				TotalFailures:       snapshot.FailureCount,
			}),
		)
		a.logger.Debug("skipping health check",
			"service", name,
			"state", snapshot.State.String(),
			"failure_count", snapshot.FailureCount,
			"error", err)
		return HealthCheckResult{
			Err:            err,
			Status:         StatusCircuitOpen,
			Error:          fmt.Sprintf("circuit breaker open (failure count: %d)", snapshot.FailureCount),
			CircuitBreaker: breakerStatus(snapshot),
		}
	}

	result := a.check(ctx, name, url)
	a.breakers.RecordResult(name, result.Healthy())
	if !result.Healthy() {
		a.logger.Debug("service unhealthy", "service", name, "error", result.Err, "reason", result.Error)
	}
	result.CircuitBreaker = breakerStatus(a.breakers.Snapshot(name))

	return result
}

// check isolates the evaluation from a misbehaving Prober: a panic becomes an unhealthy
// result and is recorded as a breaker failure.
func (a *HealthAggregator) check(ctx context.Context, name, url string) (result HealthCheckResult) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("health probe panicked", "service", name, "panic", rec)
			result = HealthCheckResult{
				Status: StatusUnhealthy,
				Error:  fmt.Sprintf("health check panicked: %v", rec),
			}
		}
	}()

	return a.probe.Check(ctx, name, url, a.config.ProbeTimeout)
}

// classify derives the overall status from the configured and healthy service counts.
//
// Nothing configured is degraded. Otherwise a zero healthy ratio is unhealthy and a ratio
// below one half is degraded. At or above one half the group is healthy only when no
// configured service is unhealthy or circuit_open; any impaired service floors the status at
// degraded, so e.g. 9 of 10 healthy is still degraded.
func classify(total, healthy int, impaired bool) (OverallStatus, float64) {
	if total == 0 {
		return OverallDegraded, 0
	}

	ratio := float64(healthy) / float64(total)
	switch {
	case ratio == 0:
		return OverallUnhealthy, ratio
	case ratio < 0.5:
		return OverallDegraded, ratio
	case impaired:
		return OverallDegraded, ratio
	default:
		return OverallHealthy, ratio
	}
}

func breakerStatus(snapshot BreakerSnapshot) *BreakerStatus {
	status := snapshot.Status()
	return &status
}
