// Package healthgate aggregates the health of a group of backend services behind per-service
// circuit breakers. An edge router polls the aggregate to decide whether the group should
// receive traffic.
//
// A single evaluation resolves every service's health-check URL (dynamic configuration first,
// static configuration as fallback), asks the CircuitBreakerRegistry whether each service may
// be probed, probes the admitted services concurrently and classifies the group as healthy,
// degraded or unhealthy.
package healthgate

import (
	"context"
)

// KVSource is a read-by-prefix key-value store holding dynamic service configuration.
// Keys are returned in full, including the prefix, e.g.
// "edge/services/auth/endpoint" -> "auth.internal".
//
// Implementations for Consul and Redis live in the source package. Wrap any KVSource with
// NewRetryingSource to absorb transient read failures.
//
// Example:
//
//	type staticKV map[string]string
//
//	func (s staticKV) List(ctx context.Context, prefix string) (map[string]string, error) {
//	    return s, nil
//	}
//
//	resolver := healthgate.NewDynamicResolver(staticKV{
//	    "edge/services/auth/full_url": "https://auth.internal",
//	}, "edge/services")
type KVSource interface {
	// List returns every key stored below prefix together with its value.
	// An empty result with a nil error means nothing is configured under prefix.
	List(ctx context.Context, prefix string) (map[string]string, error)
}
