package healthgate

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the aggregate health document.
//
// The response status is always 200 once an evaluation has been rendered, whatever the
// overall status: the edge router treats 200 as routable and reads the real signal from the
// body. Only a fault inside the handler itself yields a 5xx.
type Handler struct {
	resolver  EndpointResolver
	evaluator Evaluator
	logger    *slog.Logger
}

// NewHandler creates a handler resolving endpoints with resolver and evaluating them with
// evaluator.
//
// Example:
//
//	handler := healthgate.NewHandler(resolver, aggregator)
//	http.Handle("/health", handler)
func NewHandler(resolver EndpointResolver, evaluator Evaluator, opts ...HandlerOption) *Handler {
	h := &Handler{
		resolver:  resolver,
		evaluator: evaluator,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			h.logger.Error("health handler panicked", "panic", rec)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
	}()

	ctx := r.Context()

	endpoints := h.resolver.ResolveAll(ctx)
	response := h.evaluator.Evaluate(ctx, URLs(endpoints))

	body, err := json.Marshal(response)
	if err != nil {
		h.logger.Error("failed to encode health response", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to encode health response")
		return
	}

	if response.Status != OverallHealthy {
		h.logger.Info("service group not healthy",
			"status", response.Status,
			"healthy_services", response.Summary.HealthyServices,
			"total_services", response.Summary.TotalServices)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
