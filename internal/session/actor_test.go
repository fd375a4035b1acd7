package session

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	_ "image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chart-renderer/internal/browser"
	"github.com/shehryarbajwa/chart-renderer/internal/browser/browsertest"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

func barSpec(width, height int) models.ChartSpec {
	spec := models.ChartSpec{
		Type: "bar",
		Data: json.RawMessage(`{"labels":["A","B"],"datasets":[{"data":[1,2]}]}`),
	}
	if width > 0 {
		spec.Options.Width = &width
	}
	if height > 0 {
		spec.Options.Height = &height
	}
	return spec
}

func newTestActor(farm *browsertest.Farm) *Actor {
	return NewActor("test", farm.Factory(), Options{IdleTimeout: time.Hour, CheckInterval: time.Hour})
}

func TestRenderColdThenReused(t *testing.T) {
	farm := &browsertest.Farm{}
	actor := newTestActor(farm)
	defer actor.Close(context.Background())

	first, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, 1, first.RequestCount)
	assert.NotEmpty(t, first.Image)

	for want := 2; want <= 4; want++ {
		res, err := actor.Render(context.Background(), barSpec(0, 0))
		require.NoError(t, err)
		assert.True(t, res.Reused)
		assert.Equal(t, want, res.RequestCount)
		assert.Zero(t, res.Timings.Init, "init time is only paid once")
	}

	assert.Equal(t, 1, farm.Created())
}

func TestRenderImageDimensions(t *testing.T) {
	farm := &browsertest.Farm{}
	actor := newTestActor(farm)
	defer actor.Close(context.Background())

	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{0, 0, models.DefaultWidth, models.DefaultHeight},
		{100, 100, 100, 100},
		{800, 600, 800, 600},
		{4096, 150, 4096, 150},
	}

	for _, tt := range tests {
		res, err := actor.Render(context.Background(), barSpec(tt.w, tt.h))
		require.NoError(t, err)

		cfg, format, err := image.DecodeConfig(bytes.NewReader(res.Image))
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, tt.wantW, cfg.Width)
		assert.Equal(t, tt.wantH, cfg.Height)
	}
}

func TestRenderTimingsAddUp(t *testing.T) {
	farm := &browsertest.Farm{Delay: 5 * time.Millisecond}
	actor := newTestActor(farm)
	defer actor.Close(context.Background())

	res, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Timings.Update, 5*time.Millisecond)
	assert.GreaterOrEqual(t, res.Timings.Total, res.Timings.Init+res.Timings.Update+res.Timings.Screenshot)
}

func TestFailureResetsSession(t *testing.T) {
	tests := []struct {
		name    string
		warm    bool
		fail    func(f *browsertest.Farm)
		wantErr error
	}{
		{"init", false, func(f *browsertest.Farm) { f.FailInit = true }, browser.ErrEngineInit},
		{"apply", true, func(f *browsertest.Farm) { f.FailApply = true }, browser.ErrChartUpdate},
		{"capture", true, func(f *browsertest.Farm) { f.FailCapture = true }, nil},
		{"empty image", true, func(f *browsertest.Farm) { f.EmptyCapture = true }, ErrEmptyImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			farm := &browsertest.Farm{}
			actor := newTestActor(farm)
			defer actor.Close(context.Background())

			if tt.warm {
				for i := 0; i < 2; i++ {
					_, err := actor.Render(context.Background(), barSpec(0, 0))
					require.NoError(t, err)
				}
			}

			farm.Set(tt.fail)
			_, err := actor.Render(context.Background(), barSpec(0, 0))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			active, err := actor.Active(context.Background())
			require.NoError(t, err)
			assert.False(t, active, "engine must be discarded after a failure")

			farm.Set(func(f *browsertest.Farm) {
				f.FailInit, f.FailApply, f.FailCapture, f.EmptyCapture = false, false, false, false
			})
			res, err := actor.Render(context.Background(), barSpec(0, 0))
			require.NoError(t, err)
			assert.False(t, res.Reused)
			assert.Equal(t, 1, res.RequestCount)
		})
	}
}

func TestPanicResetsSession(t *testing.T) {
	farm := &browsertest.Farm{}
	actor := newTestActor(farm)
	defer actor.Close(context.Background())

	_, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)

	farm.Set(func(f *browsertest.Farm) { f.PanicApply = true })
	assert.Panics(t, func() {
		actor.Render(context.Background(), barSpec(0, 0))
	})
	assert.Equal(t, 1, farm.Disposed(), "crashed engine is disposed")

	farm.Set(func(f *browsertest.Farm) { f.PanicApply = false })
	res, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err, "gate is released after a panic")
	assert.False(t, res.Reused)
	assert.Equal(t, 1, res.RequestCount)
	assert.Equal(t, 2, farm.Created())
}

func TestRenderTimeoutPropagates(t *testing.T) {
	actor := NewActor("timeout", func() browser.Engine { return &timeoutEngine{} }, Options{})
	defer actor.Close(context.Background())

	_, err := actor.Render(context.Background(), barSpec(0, 0))
	assert.ErrorIs(t, err, browser.ErrRenderTimeout)
}

type timeoutEngine struct{ disposed bool }

func (e *timeoutEngine) Initialize(context.Context) error { return nil }
func (e *timeoutEngine) ApplyChart(context.Context, models.ChartSpec) error {
	return browser.ErrRenderTimeout
}
func (e *timeoutEngine) CaptureImage(context.Context) ([]byte, error) { return nil, nil }
func (e *timeoutEngine) Dispose()                                      { e.disposed = true }

func TestSameKeyRendersNeverOverlap(t *testing.T) {
	farm := &browsertest.Farm{Delay: 10 * time.Millisecond}
	actor := newTestActor(farm)
	defer actor.Close(context.Background())

	const n = 8
	var wg sync.WaitGroup
	counts := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := actor.Render(context.Background(), barSpec(0, 0))
			if assert.NoError(t, err) {
				counts <- res.RequestCount
			}
		}()
	}
	wg.Wait()
	close(counts)

	seen := map[int]bool{}
	for c := range counts {
		seen[c] = true
	}
	assert.Len(t, seen, n, "every render gets a distinct request count")

	windows := farm.Windows()
	require.Len(t, windows, n)
	for i := 1; i < len(windows); i++ {
		assert.False(t, windows[i].Start.Before(windows[i-1].End),
			"render %d started before render %d finished", i, i-1)
	}
	assert.Equal(t, 1, farm.Created())
}

func TestRenderWaitHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	farm := &browsertest.Farm{Gate: gate}
	actor := newTestActor(farm)
	defer actor.Close(context.Background())

	started := make(chan struct{})
	go func() {
		close(started)
		actor.Render(context.Background(), barSpec(0, 0))
	}()
	<-started
	require.Eventually(t, func() bool { return farm.Created() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := actor.Render(ctx, barSpec(0, 0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
}

func TestIdleEviction(t *testing.T) {
	farm := &browsertest.Farm{}
	actor := NewActor("idle", farm.Factory(), Options{
		IdleTimeout:   30 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	})
	defer actor.Close(context.Background())

	_, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)
	_, err = actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return farm.Disposed() == 1 }, 2*time.Second, 5*time.Millisecond)

	active, err := actor.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)

	res, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)
	assert.False(t, res.Reused)
	assert.Equal(t, 1, res.RequestCount)
	assert.Equal(t, 2, farm.Created())
}

func TestIdleCheckKeepsBusySession(t *testing.T) {
	farm := &browsertest.Farm{}
	actor := NewActor("busy", farm.Factory(), Options{
		IdleTimeout:   200 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	})
	defer actor.Close(context.Background())

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		_, err := actor.Render(context.Background(), barSpec(0, 0))
		require.NoError(t, err)
		time.Sleep(15 * time.Millisecond)
	}

	assert.Equal(t, 0, farm.Disposed())
	assert.Equal(t, 1, farm.Created())
}

func TestIdleCheckWaitsForParkedRender(t *testing.T) {
	gate := make(chan struct{})
	farm := &browsertest.Farm{Gate: gate}
	actor := NewActor("parked", farm.Factory(), Options{
		IdleTimeout:   5 * time.Millisecond,
		CheckInterval: 2 * time.Millisecond,
	})
	defer actor.Close(context.Background())

	type outcome struct {
		res *models.RenderResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := actor.Render(context.Background(), barSpec(0, 0))
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return farm.Created() == 1 }, time.Second, time.Millisecond)

	// Many idle checks come due while the render is parked
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, farm.Disposed(), "idle check must not dispose mid-render")

	close(gate)
	out := <-done
	require.NoError(t, out.err)
	assert.NotEmpty(t, out.res.Image)
	assert.Equal(t, 1, out.res.RequestCount)
}

func TestCloseRejectsRenders(t *testing.T) {
	farm := &browsertest.Farm{}
	actor := newTestActor(farm)

	_, err := actor.Render(context.Background(), barSpec(0, 0))
	require.NoError(t, err)

	require.NoError(t, actor.Close(context.Background()))
	assert.Equal(t, 1, farm.Disposed())

	_, err = actor.Render(context.Background(), barSpec(0, 0))
	assert.ErrorIs(t, err, ErrSessionClosed)
}
