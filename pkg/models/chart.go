package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Default chart surface size when a spec carries no dimensions
const (
	DefaultWidth  = 500
	DefaultHeight = 300
)

// MaxDimension bounds width and height; Chrome blanks larger canvases
const MaxDimension = 4096

// BackgroundPluginID is the Chart.js plugin that paints the canvas background
const BackgroundPluginID = "customCanvasBackgroundColor"

// ChartSpec is a decoded Chart.js configuration ready for rendering
type ChartSpec struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Options ChartOptions    `json:"options"`

	// Extra keeps unknown top-level keys so they reach the library untouched
	Extra map[string]json.RawMessage `json:"-"`
}

// ChartOptions holds the options this service reads, plus everything else verbatim
type ChartOptions struct {
	Width   *int
	Height  *int
	Plugins map[string]json.RawMessage
	Extra   map[string]json.RawMessage
}

// Size returns the requested canvas size, falling back to the defaults
func (s ChartSpec) Size() (width, height int) {
	width, height = DefaultWidth, DefaultHeight
	if s.Options.Width != nil {
		width = *s.Options.Width
	}
	if s.Options.Height != nil {
		height = *s.Options.Height
	}
	return width, height
}

// BackgroundColor returns the configured canvas background, if any
func (o ChartOptions) BackgroundColor() string {
	raw, ok := o.Plugins[BackgroundPluginID]
	if !ok {
		return ""
	}
	var plugin struct {
		Color string `json:"color"`
	}
	if err := json.Unmarshal(raw, &plugin); err != nil {
		return ""
	}
	return plugin.Color
}

// WithBackgroundColor returns a copy of o with the background plugin set
func (o ChartOptions) WithBackgroundColor(color string) ChartOptions {
	plugins := make(map[string]json.RawMessage, len(o.Plugins)+1)
	for k, v := range o.Plugins {
		plugins[k] = v
	}
	raw, _ := json.Marshal(map[string]string{"color": color})
	plugins[BackgroundPluginID] = raw
	o.Plugins = plugins
	return o
}

func (s ChartSpec) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Extra)+3)
	for k, v := range s.Extra {
		out[k] = v
	}

	typ, err := json.Marshal(s.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ

	if len(s.Data) > 0 {
		out["data"] = s.Data
	}

	opts, err := json.Marshal(s.Options)
	if err != nil {
		return nil, err
	}
	out["options"] = opts

	return json.Marshal(out)
}

func (s *ChartSpec) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return fmt.Errorf("chart configuration must be an object")
	}

	var spec ChartSpec
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &spec.Type); err != nil {
			return fmt.Errorf("chart type: %w", err)
		}
		delete(fields, "type")
	}
	if raw, ok := fields["data"]; ok {
		spec.Data = raw
		delete(fields, "data")
	}
	if raw, ok := fields["options"]; ok {
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &spec.Options); err != nil {
				return fmt.Errorf("chart options: %w", err)
			}
		}
		delete(fields, "options")
	}
	if len(fields) > 0 {
		spec.Extra = fields
	}

	*s = spec
	return nil
}

func (o ChartOptions) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(o.Extra)+3)
	for k, v := range o.Extra {
		out[k] = v
	}
	if o.Width != nil {
		out["width"] = json.RawMessage(fmt.Sprint(*o.Width))
	}
	if o.Height != nil {
		out["height"] = json.RawMessage(fmt.Sprint(*o.Height))
	}
	if o.Plugins != nil {
		plugins, err := json.Marshal(o.Plugins)
		if err != nil {
			return nil, err
		}
		out["plugins"] = plugins
	}
	return json.Marshal(out)
}

func (o *ChartOptions) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	var opts ChartOptions
	for _, key := range []string{"width", "height"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		delete(fields, key)
		if isNull(raw) {
			continue
		}
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("%s must be an integer: %w", key, err)
		}
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, n)
		}
		if n > MaxDimension {
			return fmt.Errorf("%s must be at most %d, got %d", key, MaxDimension, n)
		}
		if key == "width" {
			opts.Width = &n
		} else {
			opts.Height = &n
		}
	}
	if raw, ok := fields["plugins"]; ok {
		delete(fields, "plugins")
		if !isNull(raw) {
			if err := json.Unmarshal(raw, &opts.Plugins); err != nil {
				return fmt.Errorf("plugins: %w", err)
			}
		}
	}
	if len(fields) > 0 {
		opts.Extra = fields
	}

	*o = opts
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
