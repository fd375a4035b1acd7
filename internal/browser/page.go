package browser

import (
	"fmt"
	"html"

	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

const canvasID = "chart"

// pageHTML is the document a session loads once. Besides pulling in Chart.js
// it registers the background plugin and flags when the library is usable.
func pageHTML(chartJSURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>html,body{margin:0;padding:0;background:transparent}canvas{display:block}</style>
</head>
<body>
<canvas id="%s" width="500" height="300"></canvas>
<script src="%s"></script>
<script>
(function () {
  if (typeof Chart === 'undefined') {
    return;
  }
  Chart.register({
    id: '%s',
    beforeDraw: function (chart, args, opts) {
      if (!opts || !opts.color) {
        return;
      }
      var ctx = chart.canvas.getContext('2d');
      ctx.save();
      ctx.globalCompositeOperation = 'destination-over';
      ctx.fillStyle = opts.color;
      ctx.fillRect(0, 0, chart.width, chart.height);
      ctx.restore();
    }
  });
  window.__chart = null;
  window.__chartReady = false;
  window.__chartLoaded = true;
})();
</script>
</body>
</html>`, canvasID, html.EscapeString(chartJSURL), models.BackgroundPluginID)
}

const libraryLoadedJS = `() => window.__chartLoaded === true`

const chartReadyJS = `() => window.__chartReady === true`

// applyChartJS swaps the chart on the canvas. It returns an empty string on
// success and the library's message otherwise.
//
// Completion is signalled by the animation callback or, when the library
// skips it for zero-length animations, two animation frames later. The chart
// constructor draws synchronously with duration 0, so neither signal can
// precede the first paint.
const applyChartJS = `(payload) => {
  const input = JSON.parse(payload);
  window.__chartReady = false;
  try {
    if (window.__chart) {
      window.__chart.destroy();
      window.__chart = null;
    }
    const canvas = document.getElementById('` + canvasID + `');
    canvas.width = input.width;
    canvas.height = input.height;
    canvas.style.width = input.width + 'px';
    canvas.style.height = input.height + 'px';

    const config = input.config;
    const options = config.options || {};
    delete options.width;
    delete options.height;
    options.responsive = false;
    options.maintainAspectRatio = false;
    options.devicePixelRatio = 1;
    options.animation = {
      duration: 0,
      onComplete: () => { window.__chartReady = true; },
    };
    config.options = options;

    window.__chart = new Chart(canvas, config);
    requestAnimationFrame(() => requestAnimationFrame(() => { window.__chartReady = true; }));
    return '';
  } catch (e) {
    return String((e && e.message) || e || 'unknown error');
  }
}`

const captureJS = `() => document.getElementById('` + canvasID + `').toDataURL('image/png')`
