package models

import (
	"encoding/json"
	"time"
)

// Timings breaks down where a render spent its time
type Timings struct {
	Init       time.Duration
	Update     time.Duration
	Screenshot time.Duration
	Total      time.Duration
}

// MarshalJSON reports every phase in whole milliseconds
func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Init       int64 `json:"initMs"`
		Update     int64 `json:"updateMs"`
		Screenshot int64 `json:"screenshotMs"`
		Total      int64 `json:"totalMs"`
	}{
		Init:       t.Init.Milliseconds(),
		Update:     t.Update.Milliseconds(),
		Screenshot: t.Screenshot.Milliseconds(),
		Total:      t.Total.Milliseconds(),
	})
}

// RenderResult is the output of one render call
type RenderResult struct {
	Image        []byte  `json:"-"`
	Timings      Timings `json:"timings"`
	Reused       bool    `json:"reused"`
	RequestCount int     `json:"requestCount"`
}
