package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/shehryarbajwa/chart-renderer/pkg/logger"
	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

// RodEngine renders charts in a Chrome page driven through go-rod
type RodEngine struct {
	launcher Launcher
	opts     Options

	instance *Instance
	browser  *rod.Browser
	page     *rod.Page
	router   *rod.HijackRouter
}

func NewRodEngine(l Launcher, opts Options) *RodEngine {
	return &RodEngine{
		launcher: l,
		opts:     opts.withDefaults(),
	}
}

// NewRodFactory returns a Factory producing RodEngines that share a launcher
func NewRodFactory(l Launcher, opts Options) Factory {
	return func() Engine {
		return NewRodEngine(l, opts)
	}
}

// Initialize launches the browser, opens the chart page and waits for the
// chart library. On failure everything acquired so far is released.
func (e *RodEngine) Initialize(ctx context.Context) error {
	if e.page != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.InitTimeout)
	defer cancel()

	if err := e.initialize(ctx); err != nil {
		e.Dispose()
		return fmt.Errorf("%w: %w", ErrEngineInit, err)
	}
	return nil
}

func (e *RodEngine) initialize(ctx context.Context) error {
	inst, err := e.launcher.Launch(ctx)
	if err != nil {
		return err
	}
	e.instance = inst

	b := rod.New().ControlURL(inst.ControlURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	e.browser = b

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	e.page = page

	router := page.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		if Blocked(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return fmt.Errorf("failed to install request policy: %w", err)
	}
	go router.Run()
	e.router = router

	if err := page.Context(ctx).SetDocumentContent(pageHTML(e.opts.ChartJSURL)); err != nil {
		return fmt.Errorf("failed to load chart page: %w", err)
	}

	if err := page.Context(ctx).Wait(rod.Eval(libraryLoadedJS)); err != nil {
		return fmt.Errorf("chart library did not load: %w", err)
	}

	return nil
}

type applyPayload struct {
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Config models.ChartSpec `json:"config"`
}

// ApplyChart draws spec on the canvas and blocks until the chart reports
// completion or RenderTimeout elapses.
func (e *RodEngine) ApplyChart(ctx context.Context, spec models.ChartSpec) error {
	if e.page == nil {
		return fmt.Errorf("%w: engine not initialized", ErrChartUpdate)
	}

	width, height := spec.Size()
	vw, vh := SurfaceSize(width, height)

	page := e.page.Context(ctx)
	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vw,
		Height:            vh,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("%w: set viewport: %w", ErrChartUpdate, err)
	}

	payload, err := json.Marshal(applyPayload{Width: width, Height: height, Config: spec})
	if err != nil {
		return fmt.Errorf("%w: encode spec: %w", ErrChartUpdate, err)
	}

	res, err := page.Eval(applyChartJS, string(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChartUpdate, err)
	}
	if msg := res.Value.Str(); msg != "" {
		return fmt.Errorf("%w: %s", ErrChartUpdate, msg)
	}

	if err := page.Timeout(e.opts.RenderTimeout).Wait(rod.Eval(chartReadyJS)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrRenderTimeout, e.opts.RenderTimeout)
		}
		return fmt.Errorf("%w: wait for completion: %w", ErrChartUpdate, err)
	}

	return nil
}

// CaptureImage returns the canvas as PNG bytes with transparency intact
func (e *RodEngine) CaptureImage(ctx context.Context) ([]byte, error) {
	if e.page == nil {
		return nil, errors.New("capture: engine not initialized")
	}

	res, err := e.page.Context(ctx).Eval(captureJS)
	if err != nil {
		return nil, fmt.Errorf("capture canvas: %w", err)
	}

	img, err := decodeDataURL(res.Value.Str())
	if err != nil {
		return nil, fmt.Errorf("%w: capture canvas: %w", ErrChartUpdate, err)
	}
	return img, nil
}

// decodeDataURL extracts the PNG from a canvas data URL. Chrome answers
// "data:," for a canvas it could not allocate, which is an error here.
func decodeDataURL(dataURL string) ([]byte, error) {
	_, encoded, ok := strings.Cut(dataURL, ",")
	if !ok {
		return nil, fmt.Errorf("unexpected data URL prefix %q", truncate(dataURL, 32))
	}

	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, errors.New("canvas produced an empty image")
	}
	return img, nil
}

// Dispose closes the page and browser. Close errors are logged and dropped.
func (e *RodEngine) Dispose() {
	log := logger.WithField("component", "rod-engine")

	if e.router != nil {
		if err := e.router.Stop(); err != nil {
			log.WithError(err).Debugf("stop request router")
		}
		e.router = nil
	}
	if e.page != nil {
		if err := e.page.Close(); err != nil {
			log.WithError(err).Debugf("close page")
		}
		e.page = nil
	}
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			log.WithError(err).Debugf("close browser")
		}
		e.browser = nil
	}
	if e.instance != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.instance.Release(ctx); err != nil {
			log.WithError(err).Debugf("release browser instance")
		}
		cancel()
		e.instance = nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
