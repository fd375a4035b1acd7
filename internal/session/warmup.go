package session

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/shehryarbajwa/chart-renderer/pkg/logger"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

// Renderer is the part of Manager that warmup needs
type Renderer interface {
	Render(ctx context.Context, key string, spec models.ChartSpec) (*models.RenderResult, error)
}

// Warmup pre-initializes the default session once per process
type Warmup struct {
	fired    atomic.Bool
	renderer Renderer
	timeout  time.Duration
	done     chan struct{}
}

func NewWarmup(renderer Renderer, timeout time.Duration) *Warmup {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Warmup{
		renderer: renderer,
		timeout:  timeout,
		done:     make(chan struct{}),
	}
}

// WarmupSpec is the minimal chart rendered during warmup
func WarmupSpec() models.ChartSpec {
	return models.ChartSpec{
		Type: "bar",
		Data: json.RawMessage(`{"labels":["warmup"],"datasets":[{"data":[1]}]}`),
	}
}

// TriggerOnce starts the warmup render in the background the first time it
// is called and reports whether this call started it.
func (w *Warmup) TriggerOnce() bool {
	if w == nil || !w.fired.CompareAndSwap(false, true) {
		return false
	}

	go func() {
		defer close(w.done)
		defer func() {
			if p := recover(); p != nil {
				logger.WithField("panic", p).Warnf("warmup render panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		defer cancel()

		start := time.Now()
		if _, err := w.renderer.Render(ctx, DefaultKey, WarmupSpec()); err != nil {
			logger.WithError(err).Warnf("warmup render failed")
			return
		}
		logger.Infof("warmup completed in %dms", time.Since(start).Milliseconds())
	}()
	return true
}

// Done is closed once a triggered warmup finishes
func (w *Warmup) Done() <-chan struct{} {
	return w.done
}
