package chart

import "errors"

// ErrMissingChart means the request carried neither "chart" nor "c"
var ErrMissingChart = errors.New("missing chart configuration. Provide 'chart' or 'c' parameter")

// DecodeError wraps a failure to decode or parse the chart payload
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "invalid chart configuration: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
