package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/chart-renderer/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. rateLimiter may be nil.
func (h *Handler) SetupRoutes(rateLimiter *ratelimit.Limiter) http.Handler {
	r := mux.NewRouter()

	// Health
	r.HandleFunc("/", h.Health).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet, http.MethodHead)

	// Rendering (rate limited per client)
	r.Handle("/chart", RateLimitMiddleware(rateLimiter)(http.HandlerFunc(h.RenderChart))).
		Methods(http.MethodGet, http.MethodPost)

	// Unknown paths and wrong methods look the same to clients
	r.NotFoundHandler = http.HandlerFunc(h.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.NotFound)

	// Router middleware only runs on matched routes, so wrap from outside
	var handler http.Handler = r
	handler = corsMiddleware(handler)
	handler = WarmupMiddleware(h.warmup)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)

	return handler
}
