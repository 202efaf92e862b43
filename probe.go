package healthgate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
)

// Prober performs a single health check against one service.
type Prober interface {
	Check(ctx context.Context, service, url string, timeout time.Duration) HealthCheckResult
}

// healthSuffixes are path endings that already address a health endpoint.
var healthSuffixes = []string{"/health", "/healthz", "/healthcheck"}

// HealthProbe checks a service by issuing GET {url}/health.
type HealthProbe struct {
	client *http.Client
	config *ProbeConfig
	logger *slog.Logger
}

// NewHealthProbe creates a probe with the provided options.
//
// Example:
//
//	probe := healthgate.NewHealthProbe(
//	    healthgate.WithProbeTimeout(5*time.Second),
//	)
//	result := probe.Check(ctx, "auth", "https://auth.internal", 0)
func NewHealthProbe(opts ...ProbeOption) *HealthProbe {
	config := DefaultProbeConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Client == nil {
		config.Client = &http.Client{}
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeConfig().Timeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultProbeConfig().MaxBodyBytes
	}

	return &HealthProbe{
		client: config.Client,
		config: config,
		logger: config.Logger,
	}
}

// Check performs one bounded health check and classifies the outcome. It never panics and
// always returns a result:
//   - transport errors and timeouts are unhealthy, with the elapsed time up to the failure
//   - HTTP 200 is healthy; a JSON body's "dependencies" object is copied, any other body is
//     kept as a short raw preview
//   - any other status is unhealthy with error "HTTP {code}"
//
// A non-positive timeout uses the probe's configured default.
func (p *HealthProbe) Check(ctx context.Context, service, url string, timeout time.Duration) (result HealthCheckResult) {
	if timeout <= 0 {
		timeout = p.config.Timeout
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("health check panicked", "service", service, "panic", rec)
			result = HealthCheckResult{
				Status:         StatusUnhealthy,
				Error:          fmt.Sprintf("health check panicked: %v", rec),
				ResponseTimeMs: elapsedMs(start),
			}
		}
	}()

	target := HealthURL(url)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return p.transportFailure(service, target, start, timeout, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return p.transportFailure(service, target, start, timeout, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxBodyBytes))
	elapsed := elapsedMs(start)

	if resp.StatusCode != http.StatusOK {
		err := NewStatusCodeError(resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode))
		p.logger.Debug("health check returned non-200 status",
			"service", service,
			"url", target,
			"status_code", resp.StatusCode)
		return HealthCheckResult{
			Err:            err,
			Status:         StatusUnhealthy,
			Error:          err.Error(),
			ResponseTimeMs: elapsed,
			StatusCode:     resp.StatusCode,
		}
	}

	result = HealthCheckResult{
		Status:         StatusHealthy,
		ResponseTimeMs: elapsed,
		StatusCode:     resp.StatusCode,
	}

	if readErr != nil {
		p.logger.Debug("health check body read incomplete",
			"service", service,
			"error", readErr)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		result.RawResponse = preview(body, p.config.PreviewLength)
		return result
	}
	if deps, ok := payload["dependencies"].(map[string]any); ok {
		result.Dependencies = deps
	}

	return result
}

// transportFailure builds the result for a request that produced no response.
func (p *HealthProbe) transportFailure(service, target string, start time.Time, timeout time.Duration, err error) HealthCheckResult {
	result := HealthCheckResult{
		Err:            err,
		Status:         StatusUnhealthy,
		Error:          err.Error(),
		ResponseTimeMs: elapsedMs(start),
	}

	if isTimeout(err) {
		result.Err = jperrors.NewTimeoutError("health check timed out", "health_check", timeout)
		result.Error = fmt.Sprintf("timeout after %s: %v", timeout, err)
	}

	p.logger.Debug("health check failed",
		"service", service,
		"url", target,
		"timeout", jperrors.IsTimeout(result.Err),
		"error", err)

	return result
}

// HealthURL returns the health endpoint for a service base URL: trailing slashes are trimmed
// and "/health" is appended unless the URL already ends in a health path.
func HealthURL(base string) string {
	trimmed := strings.TrimRight(base, "/")
	for _, suffix := range healthSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			return trimmed
		}
	}
	return trimmed + "/health"
}

// preview returns the first n characters of body.
func preview(body []byte, n int) string {
	runes := []rune(string(body))
	if n >= 0 && len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

// elapsedMs returns the milliseconds since start, rounded to two decimals.
func elapsedMs(start time.Time) float64 {
	ms := float64(time.Since(start)) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
