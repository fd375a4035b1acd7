package chart

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shehryarbajwa/chart-renderer/pkg/models"
)

const (
	EncodingURL    = "url"
	EncodingBase64 = "base64"
)

// Parameter aliases, in resolution order: the first non-empty one wins.
var (
	chartKeys      = []string{"chart", "c"}
	widthKeys      = []string{"width", "w"}
	heightKeys     = []string{"height", "h"}
	backgroundKeys = []string{"backgroundColor", "bkg"}
	encodingKeys   = []string{"encoding"}
)

// Request is an inbound render request before the chart is decoded
type Request struct {
	// Chart is the chart payload as sent: serialized JSON, base64, or, when
	// Inline is set, a JSON object taken verbatim from a request body.
	Chart  string
	Inline bool

	Width           *int
	Height          *int
	BackgroundColor string
	Encoding        string
}

// ParseQuery reads a request from URL query parameters
func ParseQuery(q url.Values) (Request, error) {
	var req Request

	req.Chart = firstQuery(q, chartKeys)
	req.BackgroundColor = firstQuery(q, backgroundKeys)
	req.Encoding = firstQuery(q, encodingKeys)

	var err error
	if req.Width, err = queryInt(q, widthKeys); err != nil {
		return Request{}, err
	}
	if req.Height, err = queryInt(q, heightKeys); err != nil {
		return Request{}, err
	}
	return req, nil
}

// ParseBody reads a request from a JSON object body
func ParseBody(body []byte) (Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Request{}, &DecodeError{Err: fmt.Errorf("request body: %w", err)}
	}

	var req Request
	for _, key := range chartKeys {
		raw, ok := fields[key]
		if !ok || isEmptyJSON(raw) {
			continue
		}
		if raw[0] == '"' {
			if err := json.Unmarshal(raw, &req.Chart); err != nil {
				return Request{}, &DecodeError{Err: fmt.Errorf("%s: %w", key, err)}
			}
		} else {
			req.Chart = string(raw)
			req.Inline = true
		}
		break
	}

	var err error
	if req.BackgroundColor, err = bodyString(fields, backgroundKeys); err != nil {
		return Request{}, err
	}
	if req.Encoding, err = bodyString(fields, encodingKeys); err != nil {
		return Request{}, err
	}
	if req.Width, err = bodyInt(fields, widthKeys); err != nil {
		return Request{}, err
	}
	if req.Height, err = bodyInt(fields, heightKeys); err != nil {
		return Request{}, err
	}
	return req, nil
}

// FromHTTP decodes a chart from r. POST requests with a body are read as
// JSON; everything else uses the query string.
func FromHTTP(r *http.Request) (models.ChartSpec, error) {
	req, err := requestFromHTTP(r)
	if err != nil {
		return models.ChartSpec{}, err
	}
	return req.Spec()
}

func requestFromHTTP(r *http.Request) (Request, error) {
	if r.Method != http.MethodPost || r.Body == nil {
		return ParseQuery(r.URL.Query())
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Request{}, &DecodeError{Err: fmt.Errorf("read body: %w", err)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ParseQuery(r.URL.Query())
	}
	return ParseBody(body)
}

// Spec decodes the chart payload and folds the request options into it
func (r Request) Spec() (models.ChartSpec, error) {
	if strings.TrimSpace(r.Chart) == "" {
		return models.ChartSpec{}, ErrMissingChart
	}

	data := []byte(r.Chart)
	if !r.Inline && strings.EqualFold(r.Encoding, EncodingBase64) {
		decoded, err := decodeBase64(r.Chart)
		if err != nil {
			return models.ChartSpec{}, &DecodeError{Err: fmt.Errorf("base64: %w", err)}
		}
		data = decoded
	}

	var spec models.ChartSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return models.ChartSpec{}, &DecodeError{Err: err}
	}
	if spec.Type == "" {
		return models.ChartSpec{}, &DecodeError{Err: errors.New("chart type is required")}
	}

	if r.Width != nil {
		w := *r.Width
		spec.Options.Width = &w
	}
	if r.Height != nil {
		h := *r.Height
		spec.Options.Height = &h
	}
	if r.BackgroundColor != "" {
		spec.Options = spec.Options.WithBackgroundColor(r.BackgroundColor)
	}
	return spec, nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not. A
// '+' that went through form decoding arrives as a space and is restored.
func decodeBase64(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func firstQuery(q url.Values, keys []string) string {
	for _, key := range keys {
		if v := q.Get(key); v != "" {
			return v
		}
	}
	return ""
}

func queryInt(q url.Values, keys []string) (*int, error) {
	for _, key := range keys {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			continue
		}
		return parseDimension(key, v)
	}
	return nil, nil
}

func bodyString(fields map[string]json.RawMessage, keys []string) (string, error) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || isEmptyJSON(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", &DecodeError{Err: fmt.Errorf("%s must be a string", key)}
		}
		if s != "" {
			return s, nil
		}
	}
	return "", nil
}

func bodyInt(fields map[string]json.RawMessage, keys []string) (*int, error) {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok || isEmptyJSON(raw) {
			continue
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, &DecodeError{Err: fmt.Errorf("%s: %w", key, err)}
			}
			return parseDimension(key, strings.TrimSpace(s))
		}
		return parseDimension(key, string(raw))
	}
	return nil, nil
}

func parseDimension(key, v string) (*int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%s must be an integer, got %q", key, v)}
	}
	if n <= 0 {
		return nil, &DecodeError{Err: fmt.Errorf("%s must be positive, got %d", key, n)}
	}
	if n > models.MaxDimension {
		return nil, &DecodeError{Err: fmt.Errorf("%s must be at most %d, got %d", key, models.MaxDimension, n)}
	}
	return &n, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}
