package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/png"
	"os"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

func TestSurfaceSizeFloor(t *testing.T) {
	tests := []struct {
		w, h         int
		wantW, wantH int
	}{
		{500, 300, 500, 300},
		{20, 300, 100, 300},
		{500, 1, 500, 100},
		{0, 0, 100, 100},
		{4096, 100, 4096, 100},
	}

	for _, tt := range tests {
		w, h := SurfaceSize(tt.w, tt.h)
		assert.Equal(t, tt.wantW, w)
		assert.Equal(t, tt.wantH, h)
	}
}

func TestResourcePolicy(t *testing.T) {
	for _, blocked := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeImage,
		proto.NetworkResourceTypeStylesheet,
		proto.NetworkResourceTypeFont,
		proto.NetworkResourceTypeMedia,
	} {
		assert.True(t, Blocked(blocked), string(blocked))
	}

	for _, allowed := range []proto.NetworkResourceType{
		proto.NetworkResourceTypeScript,
		proto.NetworkResourceTypeDocument,
		proto.NetworkResourceTypeXHR,
		proto.NetworkResourceTypeFetch,
	} {
		assert.False(t, Blocked(allowed), string(allowed))
	}
}

func TestPageHTMLEscapesLibraryURL(t *testing.T) {
	html := pageHTML(`https://cdn.example.com/chart.js?a=1&b="x"`)

	assert.Contains(t, html, `src="https://cdn.example.com/chart.js?a=1&amp;b=&#34;x&#34;"`)
	assert.Contains(t, html, models.BackgroundPluginID)
	assert.Contains(t, html, `id="chart"`)
}

func TestApplyPayloadCarriesSpec(t *testing.T) {
	w := 640
	spec := models.ChartSpec{
		Type:    "bar",
		Data:    json.RawMessage(`{"labels":["A"]}`),
		Options: models.ChartOptions{Width: &w},
	}

	b, err := json.Marshal(applyPayload{Width: 640, Height: 300, Config: spec})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"width": 640,
		"height": 300,
		"config": {"type": "bar", "data": {"labels": ["A"]}, "options": {"width": 640}}
	}`, string(b))
}

func TestDecodeDataURL(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n")

	img, err := decodeDataURL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
	require.NoError(t, err)
	assert.Equal(t, png, img)

	tests := []struct {
		name string
		in   string
	}{
		{"oversized canvas", "data:,"},
		{"no comma", "data:image/png;base64"},
		{"bad base64", "data:image/png;base64,%%%"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := decodeDataURL(tt.in)
			assert.Error(t, err)
			assert.Empty(t, img)
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.NotEmpty(t, opts.ChartJSURL)
	assert.Positive(t, opts.InitTimeout)
	assert.Equal(t, "5s", opts.RenderTimeout.String())
}

// TestRodEngineRender drives a real Chrome. Set RENDERER_E2E=1 to run it; it
// also needs network access for the chart library.
func TestRodEngineRender(t *testing.T) {
	if os.Getenv("RENDERER_E2E") == "" {
		t.Skip("set RENDERER_E2E=1 to run against a local Chrome")
	}

	engine := NewRodEngine(&LocalLauncher{Bin: os.Getenv("RENDERER_BROWSER_BIN")}, Options{})
	defer engine.Dispose()

	ctx := context.Background()
	require.NoError(t, engine.Initialize(ctx))

	var spec models.ChartSpec
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "bar",
		"data": {"labels": ["A", "B"], "datasets": [{"data": [1, 2]}]},
		"options": {"width": 320, "height": 200}
	}`), &spec))

	for i := 0; i < 2; i++ {
		require.NoError(t, engine.ApplyChart(ctx, spec))
		img, err := engine.CaptureImage(ctx)
		require.NoError(t, err)

		cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
		require.NoError(t, err)
		assert.Equal(t, 320, cfg.Width)
		assert.Equal(t, 200, cfg.Height)
	}

	err := engine.ApplyChart(ctx, models.ChartSpec{Type: "no-such-chart-type"})
	assert.ErrorIs(t, err, ErrChartUpdate)
}
