package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shehryarbajwa/chart-renderer/internal/chart"
	"github.com/shehryarbajwa/chart-renderer/internal/session"
	"github.com/shehryarbajwa/chart-renderer/pkg/logger"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

// Renderer renders a chart on the session identified by key
type Renderer interface {
	Render(ctx context.Context, key string, spec models.ChartSpec) (*models.RenderResult, error)
}

// Options configure the HTTP handlers
type Options struct {
	// Debug adds a Server-Timing header to chart responses
	Debug bool
	// KeyHeader, when set, names a request header that selects the session
	KeyHeader string
	// MaxBodyBytes caps POST bodies; zero means no limit
	MaxBodyBytes int64
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	renderer Renderer
	warmup   *session.Warmup
	opts     Options
}

// NewHandler creates a new HTTP handler. warmup may be nil.
func NewHandler(renderer Renderer, warmup *session.Warmup, opts Options) *Handler {
	return &Handler{
		renderer: renderer,
		warmup:   warmup,
		opts:     opts,
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

const (
	msgMissingChart = "Missing chart configuration. Provide 'chart' or 'c' parameter."
	msgInvalidChart = "Invalid chart configuration"
	msgRenderFailed = "Failed to render chart"
)

// Health handles GET|HEAD / and /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write([]byte("Chart renderer is running\n"))
	}
}

// RenderChart handles GET|POST /chart
func (h *Handler) RenderChart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := RequestIDFrom(r.Context())

	if h.opts.MaxBodyBytes > 0 && r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	}

	spec, err := chart.FromHTTP(r)
	if err != nil {
		var decodeErr *chart.DecodeError
		switch {
		case errors.Is(err, chart.ErrMissingChart):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgMissingChart})
		case errors.As(err, &decodeErr):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidChart, Details: decodeErr.Err.Error()})
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidChart, Details: err.Error()})
		}
		return
	}

	key := h.sessionKey(r)
	result, err := h.renderer.Render(r.Context(), key, spec)
	if err != nil {
		logger.WithError(err).
			WithField("requestId", requestID).
			WithField("session", key).
			Errorf("chart render failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgRenderFailed, RequestID: requestID})
		return
	}

	setTimingHeaders(w.Header(), result, time.Since(start), h.opts.Debug)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Image)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Image)
}

// NotFound handles every unmatched path or method
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found", RequestID: RequestIDFrom(r.Context())})
}

func (h *Handler) sessionKey(r *http.Request) string {
	if h.opts.KeyHeader != "" {
		if key := r.Header.Get(h.opts.KeyHeader); key != "" {
			return key
		}
	}
	return session.DefaultKey
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
