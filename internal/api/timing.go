package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

const (
	HeaderReused       = "X-Browser-Reused"
	HeaderRequestCount = "X-Request-Count"
	HeaderInitTime     = "X-Init-Time"
	HeaderUpdateTime   = "X-Update-Time"
	HeaderScreenshot   = "X-Screenshot-Time"
	HeaderTotalTime    = "X-Total-Time"
	HeaderWorkerTime   = "X-Worker-Time"
	HeaderRequestID    = "X-Request-ID"
	HeaderServerTiming = "Server-Timing"
)

// exposedHeaders are readable by browser clients across origins
var exposedHeaders = []string{
	HeaderReused,
	HeaderRequestCount,
	HeaderInitTime,
	HeaderUpdateTime,
	HeaderScreenshot,
	HeaderTotalTime,
	HeaderWorkerTime,
	HeaderRequestID,
	HeaderServerTiming,
}

func setTimingHeaders(h http.Header, res *models.RenderResult, worker time.Duration, debug bool) {
	h.Set(HeaderReused, strconv.FormatBool(res.Reused))
	h.Set(HeaderRequestCount, strconv.Itoa(res.RequestCount))
	h.Set(HeaderInitTime, ms(res.Timings.Init))
	h.Set(HeaderUpdateTime, ms(res.Timings.Update))
	h.Set(HeaderScreenshot, ms(res.Timings.Screenshot))
	h.Set(HeaderTotalTime, ms(res.Timings.Total))
	h.Set(HeaderWorkerTime, ms(worker))

	if debug {
		h.Set(HeaderServerTiming, serverTiming(res.Timings, worker))
	}
}

func ms(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// serverTiming formats the timings for the Server-Timing header
func serverTiming(t models.Timings, worker time.Duration) string {
	metrics := []struct {
		name, desc string
		d          time.Duration
	}{
		{"init", "Browser init", t.Init},
		{"update", "Chart update", t.Update},
		{"screenshot", "Image capture", t.Screenshot},
		{"render", "Engine total", t.Total},
		{"worker", "Worker total", worker},
	}

	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, fmt.Sprintf(`%s;desc="%s";dur=%.1f`, m.name, m.desc, float64(m.d.Microseconds())/1000))
	}
	return strings.Join(parts, ", ")
}
