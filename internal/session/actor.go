package session

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/chart-renderer/internal/browser"
	"github.com/shehryarbajwa/chart-renderer/pkg/logger"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

var (
	// ErrSessionClosed is returned by Render after Close
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyImage means the engine captured nothing
	ErrEmptyImage = errors.New("render produced an empty image")
	// ErrTooManySessions is returned when a new key would exceed MaxSessions
	ErrTooManySessions = errors.New("too many sessions")
)

// Options control idle eviction and the session cap
type Options struct {
	// IdleTimeout is how long an engine may sit unused before it is disposed
	IdleTimeout time.Duration
	// CheckInterval is the period of the idle check
	CheckInterval time.Duration
	// MaxSessions caps live session keys in a Manager; zero means no cap
	MaxSessions int
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 60 * time.Second
	}
	return o
}

// Actor owns the rendering engine for one session key. Every access to the
// engine and the usage record goes through gate, so renders and idle checks
// run one at a time in arrival order.
type Actor struct {
	key       string
	newEngine browser.Factory
	opts      Options
	log       *logrus.Entry

	gate *semaphore.Weighted

	// Guarded by gate.
	engine       browser.Engine
	lastUsedAt   time.Time
	requestCount int
	idleTimer    *time.Timer
	timerGen     uint64
	closed       bool
}

func NewActor(key string, factory browser.Factory, opts Options) *Actor {
	return &Actor{
		key:       key,
		newEngine: factory,
		opts:      opts.withDefaults(),
		log:       logger.WithField("session", key),
		gate:      semaphore.NewWeighted(1),
	}
}

func (a *Actor) Key() string { return a.key }

// Render draws spec on this session's engine, creating the engine first if
// needed. ctx only bounds the wait for a turn; once started a render runs to
// completion. Any failure disposes the engine so the next call starts clean.
func (a *Actor) Render(ctx context.Context, spec models.ChartSpec) (*models.RenderResult, error) {
	if err := a.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer a.gate.Release(1)

	if a.closed {
		return nil, ErrSessionClosed
	}

	// A panicking engine is as broken as a failing one.
	defer func() {
		if p := recover(); p != nil {
			a.log.WithField("panic", p).Error("render panicked, discarding browser")
			a.teardown()
			panic(p)
		}
	}()

	result, err := a.render(context.WithoutCancel(ctx), spec)
	if err != nil {
		a.log.WithError(err).Warn("render failed, discarding browser")
		a.teardown()
		return nil, err
	}
	return result, nil
}

func (a *Actor) render(ctx context.Context, spec models.ChartSpec) (*models.RenderResult, error) {
	start := time.Now()
	result := &models.RenderResult{}

	if a.engine == nil {
		engine := a.newEngine()
		a.engine = engine
		if err := engine.Initialize(ctx); err != nil {
			return nil, err
		}
		result.Timings.Init = time.Since(start)
		a.startIdleTimer()
		a.log.WithField("initMs", result.Timings.Init.Milliseconds()).Info("browser initialized")
	}

	a.requestCount++
	a.lastUsedAt = time.Now()

	updateStart := time.Now()
	if err := a.engine.ApplyChart(ctx, spec); err != nil {
		return nil, err
	}
	result.Timings.Update = time.Since(updateStart)

	shotStart := time.Now()
	img, err := a.engine.CaptureImage(ctx)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, ErrEmptyImage
	}
	result.Timings.Screenshot = time.Since(shotStart)

	result.Image = img
	a.lastUsedAt = time.Now()
	result.Timings.Total = time.Since(start)
	result.RequestCount = a.requestCount
	result.Reused = a.requestCount > 1
	return result, nil
}

// teardown disposes the engine and resets the usage record. Caller holds gate.
func (a *Actor) teardown() {
	a.stopIdleTimer()
	if a.engine != nil {
		a.engine.Dispose()
		a.engine = nil
	}
	a.requestCount = 0
	a.lastUsedAt = time.Time{}
}

// startIdleTimer arms the idle check for a freshly initialized engine.
// Caller holds gate.
func (a *Actor) startIdleTimer() {
	a.stopIdleTimer()
	a.timerGen++
	gen := a.timerGen
	a.idleTimer = time.AfterFunc(a.opts.CheckInterval, func() {
		a.idleCheck(gen)
	})
}

func (a *Actor) stopIdleTimer() {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
		a.idleTimer = nil
	}
}

// idleCheck runs on the timer goroutine. A check belonging to an earlier
// engine generation exits without touching the current one.
func (a *Actor) idleCheck(gen uint64) {
	if err := a.gate.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer a.gate.Release(1)

	if a.engine == nil || gen != a.timerGen {
		return
	}

	idle := time.Since(a.lastUsedAt)
	if idle > a.opts.IdleTimeout {
		a.log.WithFields(logrus.Fields{
			"idle":     idle.Round(time.Second).String(),
			"requests": a.requestCount,
		}).Info("session idle, closing browser")
		a.teardown()
		return
	}

	a.idleTimer.Reset(a.opts.CheckInterval)
}

// retireIfIdle closes the actor when it holds no engine and nobody is using
// it. It never waits for the gate.
func (a *Actor) retireIfIdle() bool {
	if !a.gate.TryAcquire(1) {
		return false
	}
	defer a.gate.Release(1)

	if a.engine != nil || a.closed {
		return false
	}
	a.closed = true
	return true
}

// Active reports whether the session currently holds a live engine
func (a *Actor) Active(ctx context.Context) (bool, error) {
	if err := a.gate.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer a.gate.Release(1)
	return a.engine != nil, nil
}

// Close waits for any in-flight render, disposes the engine and rejects
// further renders.
func (a *Actor) Close(ctx context.Context) error {
	if err := a.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.gate.Release(1)

	a.teardown()
	a.closed = true
	return nil
}
