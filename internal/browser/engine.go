package browser

import (
	"context"
	"errors"
	"time"

	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

var (
	// ErrEngineInit means the browser could not be launched or the chart
	// library did not load in time.
	ErrEngineInit = errors.New("engine initialization failed")
	// ErrChartUpdate means the chart library rejected the spec.
	ErrChartUpdate = errors.New("chart update failed")
	// ErrRenderTimeout means the chart never signalled completion.
	ErrRenderTimeout = errors.New("render timed out")
)

// MinSurfaceSize is the smallest viewport edge handed to the browser
const MinSurfaceSize = 100

// Engine is one rendering context with the chart library loaded. It is not
// safe for concurrent use; callers serialize access.
type Engine interface {
	Initialize(ctx context.Context) error
	ApplyChart(ctx context.Context, spec models.ChartSpec) error
	CaptureImage(ctx context.Context) ([]byte, error)
	Dispose()
}

// Factory builds a fresh, uninitialized engine
type Factory func() Engine

// Options tune a RodEngine
type Options struct {
	ChartJSURL    string
	InitTimeout   time.Duration
	RenderTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChartJSURL == "" {
		o.ChartJSURL = "https://cdn.jsdelivr.net/npm/chart.js@4.4.1/dist/chart.umd.min.js"
	}
	if o.InitTimeout == 0 {
		o.InitTimeout = 15 * time.Second
	}
	if o.RenderTimeout == 0 {
		o.RenderTimeout = 5 * time.Second
	}
	return o
}

// SurfaceSize returns the viewport for a chart of the given size, enforcing
// MinSurfaceSize on each edge.
func SurfaceSize(width, height int) (int, int) {
	return max(width, MinSurfaceSize), max(height, MinSurfaceSize)
}
