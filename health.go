package healthgate

import (
	"time"
)

// ServiceStatus is the outcome of evaluating a single service.
type ServiceStatus string

const (
	// StatusHealthy means the service answered its health check with HTTP 200.
	StatusHealthy ServiceStatus = "healthy"

	// StatusUnhealthy means the health check failed at transport level or returned a non-200 status.
	StatusUnhealthy ServiceStatus = "unhealthy"

	// StatusCircuitOpen means the check was skipped because the service's breaker is open.
	StatusCircuitOpen ServiceStatus = "circuit_open"

	// StatusUnknown means no URL is configured for the service, so it was not checked.
	StatusUnknown ServiceStatus = "unknown"
)

// OverallStatus classifies the whole group of services.
type OverallStatus string

const (
	OverallHealthy   OverallStatus = "healthy"
	OverallDegraded  OverallStatus = "degraded"
	OverallUnhealthy OverallStatus = "unhealthy"
)

// BreakerStatus is the part of a breaker's state reported next to each check result.
type BreakerStatus struct {
	State        BreakerState `json:"state"`
	FailureCount uint32       `json:"failure_count"`
}

// BreakerSnapshot is a point-in-time copy of a service's breaker bookkeeping.
type BreakerSnapshot struct {
	// LastFailure is the time of the most recent counted failure, nil if none.
	LastFailure *time.Time `json:"last_failure,omitempty"`

	// LastSuccess is the time of the most recent counted success, nil if none.
	LastSuccess *time.Time `json:"last_success,omitempty"`

	// LastStateChange is the time of the most recent transition, or the entry's creation time.
	LastStateChange time.Time `json:"last_state_change"`

	State        BreakerState `json:"state"`
	FailureCount uint32       `json:"failure_count"`
}

// Status returns the reduced view reported with check results.
func (s BreakerSnapshot) Status() BreakerStatus {
	return BreakerStatus{State: s.State, FailureCount: s.FailureCount}
}

// HealthCheckResult is the outcome of evaluating one service during one request.
type HealthCheckResult struct {
	// Err is the typed error behind Error, for logging and errors.Is/As. Not serialized.
	Err error `json:"-"`

	// Dependencies is copied verbatim from the downstream health payload when present.
	Dependencies map[string]any `json:"dependencies,omitempty"`

	// CircuitBreaker reports the service's breaker after this evaluation.
	CircuitBreaker *BreakerStatus `json:"circuit_breaker,omitempty"`

	Status ServiceStatus `json:"status"`

	// Error describes why the service is not healthy.
	Error string `json:"error,omitempty"`

	// RawResponse holds the start of a 200 response body that was not valid JSON.
	RawResponse string `json:"raw_response,omitempty"`

	// ResponseTimeMs is the time spent on the check, up to the point of failure.
	ResponseTimeMs float64 `json:"response_time_ms"`

	// StatusCode is the HTTP status returned by the service, 0 if no response was received.
	StatusCode int `json:"status_code,omitempty"`
}

// Healthy reports whether the result counts as a breaker success.
func (r HealthCheckResult) Healthy() bool {
	return r.Status == StatusHealthy
}

// HealthSummary counts the configured and healthy services.
type HealthSummary struct {
	TotalServices   int     `json:"total_services"`
	HealthyServices int     `json:"healthy_services"`
	HealthyRatio    float64 `json:"healthy_ratio"`
}

// AggregateHealthResponse is the document returned to the edge router.
type AggregateHealthResponse struct {
	Timestamp time.Time                    `json:"timestamp"`
	Services  map[string]HealthCheckResult `json:"services"`
	Status    OverallStatus                `json:"status"`
	Summary   HealthSummary                `json:"summary"`
}
