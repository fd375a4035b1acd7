// Package browsertest provides an in-memory browser.Engine for tests.
package browsertest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shehryarbajwa/chart-renderer/internal/browser"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

// Window is the span one engine spent inside ApplyChart..CaptureImage
type Window struct {
	Start, End time.Time
}

// Farm builds fake engines and records what they did. Knobs may be changed
// between renders; they are read under the farm's lock.
type Farm struct {
	mu sync.Mutex

	// FailInit, FailApply and FailCapture make the next calls fail with the
	// matching browser error until cleared.
	FailInit    bool
	FailApply   bool
	FailCapture bool
	// PanicApply makes ApplyChart panic
	PanicApply bool
	// EmptyCapture makes CaptureImage return no bytes and no error
	EmptyCapture bool
	// Delay is slept inside ApplyChart
	Delay time.Duration
	// Gate, when set, is waited on inside ApplyChart
	Gate chan struct{}

	created  atomic.Int32
	disposed atomic.Int32
	windows  []Window
}

func (f *Farm) Factory() browser.Factory {
	return func() browser.Engine {
		f.created.Add(1)
		return &Engine{farm: f}
	}
}

// Created is the number of engines the factory built
func (f *Farm) Created() int { return int(f.created.Load()) }

// Disposed is the number of Dispose calls across all engines
func (f *Farm) Disposed() int { return int(f.disposed.Load()) }

// Windows returns the recorded render windows in completion order
func (f *Farm) Windows() []Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Window(nil), f.windows...)
}

func (f *Farm) snapshot() (failInit, failApply, failCapture bool, delay time.Duration, gate chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.FailInit, f.FailApply, f.FailCapture, f.Delay, f.Gate
}

func (f *Farm) misbehaviour() (panicApply, emptyCapture bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PanicApply, f.EmptyCapture
}

// Set runs fn with the farm locked, for changing knobs while renders run
func (f *Farm) Set(fn func(f *Farm)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Engine draws a solid PNG of the requested chart size
type Engine struct {
	farm        *Farm
	initialized bool
	width       int
	height      int
	start       time.Time
}

func (e *Engine) Initialize(ctx context.Context) error {
	failInit, _, _, _, _ := e.farm.snapshot()
	if failInit {
		return fmt.Errorf("%w: fake launch failure", browser.ErrEngineInit)
	}
	e.initialized = true
	return nil
}

func (e *Engine) ApplyChart(ctx context.Context, spec models.ChartSpec) error {
	_, failApply, _, delay, gate := e.farm.snapshot()
	if !e.initialized {
		return fmt.Errorf("%w: not initialized", browser.ErrChartUpdate)
	}
	e.start = time.Now()
	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if failApply {
		return fmt.Errorf("%w: fake script failure", browser.ErrChartUpdate)
	}
	if panicApply, _ := e.farm.misbehaviour(); panicApply {
		panic("fake engine crashed")
	}
	e.width, e.height = spec.Size()
	return nil
}

func (e *Engine) CaptureImage(ctx context.Context) ([]byte, error) {
	_, _, failCapture, _, _ := e.farm.snapshot()
	if failCapture {
		return nil, fmt.Errorf("fake capture failure")
	}
	if _, empty := e.farm.misbehaviour(); empty {
		return []byte{}, nil
	}

	img := image.NewNRGBA(image.Rect(0, 0, e.width, e.height))
	for x := 0; x < e.width; x++ {
		img.Set(x, 0, color.NRGBA{R: 54, G: 162, B: 235, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	e.farm.mu.Lock()
	e.farm.windows = append(e.farm.windows, Window{Start: e.start, End: time.Now()})
	e.farm.mu.Unlock()

	return buf.Bytes(), nil
}

func (e *Engine) Dispose() {
	e.initialized = false
	e.farm.disposed.Add(1)
}
