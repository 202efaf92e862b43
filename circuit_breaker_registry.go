package healthgate

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerRegistry owns one circuit breaker per service name for the lifetime of the
// process. Breakers are created lazily on first use and start closed.
//
// Each service's entry has its own lock, so checks of unrelated services never wait on each
// other; the registry-wide lock only guards entry lookup and creation.
type CircuitBreakerRegistry struct {
	mu      sync.RWMutex
	entries map[string]*breakerEntry
	config  *RegistryConfig
	logger  *slog.Logger
}

// breakerEntry pairs a gobreaker two-step breaker with the bookkeeping reported to callers.
// Every call into cb happens with mu held: gobreaker fires OnStateChange synchronously from
// Allow and done, and the handler writes to the entry without locking it.
//
// state mirrors the last transition gobreaker reported. Reads use it rather than cb.State(),
// which would itself move an expired open breaker to half-open.
type breakerEntry struct {
	mu              sync.Mutex
	cb              *gobreaker.TwoStepCircuitBreaker[struct{}]
	tickets         []func(success bool)
	lastFailure     time.Time
	lastSuccess     time.Time
	lastStateChange time.Time
	state           BreakerState
	failureCount    uint32
}

// NewCircuitBreakerRegistry creates an empty registry.
//
// Example:
//
//	registry := healthgate.NewCircuitBreakerRegistry(
//	    healthgate.WithFailureThreshold(5),
//	    healthgate.WithRecoveryTimeout(30*time.Second),
//	)
func NewCircuitBreakerRegistry(opts ...RegistryOption) *CircuitBreakerRegistry {
	config := DefaultRegistryConfig()
	for _, opt := range opts {
		opt(config)
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultRegistryConfig().FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = DefaultRegistryConfig().RecoveryTimeout
	}

	return &CircuitBreakerRegistry{
		entries: make(map[string]*breakerEntry),
		config:  config,
		logger:  config.Logger,
	}
}

// ShouldAttempt reports whether service may be probed now.
//
// A closed breaker always admits. An open breaker rejects until the recovery timeout has
// elapsed, then moves to half-open and admits exactly one trial; further calls are rejected
// until that trial's result is recorded.
func (r *CircuitBreakerRegistry) ShouldAttempt(service string) bool {
	e := r.entry(service)

	e.mu.Lock()
	defer e.mu.Unlock()

	done, err := e.cb.Allow()
	if err != nil {
		r.logger.Debug("circuit breaker rejected health check",
			"service", service,
			"state", e.state.String(),
			"failure_count", e.failureCount,
			"error", err)
		return false
	}

	e.tickets = append(e.tickets, done)
	return true
}

// RecordResult feeds the outcome of a health check back into service's breaker.
//
// Results are matched to admissions in FIFO order. A result recorded without a prior
// admission is counted as if ShouldAttempt had been called, unless the breaker is open, in
// which case there is nothing to count it against and it is dropped.
func (r *CircuitBreakerRegistry) RecordResult(service string, success bool) {
	e := r.entry(service)

	e.mu.Lock()
	defer e.mu.Unlock()

	done := e.takeTicket()
	if done == nil {
		var err error
		done, err = e.cb.Allow()
		if err != nil {
			r.logger.Debug("dropping health check result without admission",
				"service", service,
				"success", success,
				"error", err)
			return
		}
	}

	now := time.Now()
	if success {
		e.failureCount = 0
		e.lastSuccess = now
	} else {
		e.failureCount++
		e.lastFailure = now
	}

	done(success)
}

// Snapshot returns a copy of service's breaker bookkeeping. Unknown services report a fresh
// closed breaker without one being created.
func (r *CircuitBreakerRegistry) Snapshot(service string) BreakerSnapshot {
	r.mu.RLock()
	e, ok := r.entries[service]
	r.mu.RUnlock()

	if !ok {
		return BreakerSnapshot{State: StateClosed, LastStateChange: time.Now()}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.snapshot()
}

// Snapshots returns a copy of every breaker in the registry, keyed by service name.
func (r *CircuitBreakerRegistry) Snapshots() map[string]BreakerSnapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	entries := make([]*breakerEntry, 0, len(r.entries))
	for name, e := range r.entries {
		names = append(names, name)
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make(map[string]BreakerSnapshot, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		out[names[i]] = e.snapshot()
		e.mu.Unlock()
	}
	return out
}

// Services returns the names of all services with a breaker, sorted.
func (r *CircuitBreakerRegistry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// entry returns service's breaker, creating it on first use.
func (r *CircuitBreakerRegistry) entry(service string) *breakerEntry {
	r.mu.RLock()
	e, ok := r.entries[service]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok = r.entries[service]; ok {
		return e
	}

	e = &breakerEntry{lastStateChange: time.Now(), state: StateClosed}
	threshold := r.config.FailureThreshold

	e.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        service,
		MaxRequests: 1,
		Timeout:     r.config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.lastStateChange = time.Now()
			e.state = convertGobreakerState(to)
			// Admissions handed out before the transition belong to the previous generation,
			// which gobreaker ignores when they are reported.
			e.tickets = nil

			fromState := convertGobreakerState(from)
			toState := convertGobreakerState(to)

			r.logger.Warn("circuit breaker state changed",
				"service", name,
				"from", fromState.String(),
				"to", toState.String(),
				"failure_count", e.failureCount)

			if r.config.OnStateChange != nil {
				r.config.OnStateChange(name, fromState, toState)
			}
		},
	})

	r.entries[service] = e
	r.logger.Debug("created circuit breaker", "service", service, "failure_threshold", threshold)

	return e
}

// takeTicket pops the oldest outstanding admission, or returns nil if there is none.
func (e *breakerEntry) takeTicket() func(success bool) {
	if len(e.tickets) == 0 {
		return nil
	}
	done := e.tickets[0]
	e.tickets = e.tickets[1:]
	return done
}

// snapshot must be called with e.mu held.
func (e *breakerEntry) snapshot() BreakerSnapshot {
	snap := BreakerSnapshot{
		State:           e.state,
		FailureCount:    e.failureCount,
		LastStateChange: e.lastStateChange,
	}
	if !e.lastFailure.IsZero() {
		t := e.lastFailure
		snap.LastFailure = &t
	}
	if !e.lastSuccess.IsZero() {
		t := e.lastSuccess
		snap.LastSuccess = &t
	}
	return snap
}

// convertGobreakerState converts gobreaker.State to our BreakerState.
func convertGobreakerState(state gobreaker.State) BreakerState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
