package export

import "fmt"

// ConfigError indicates invalid caller input (missing time window, bad format).
// It is never retried.
type ConfigError struct {
	Msg string
}

func (e ConfigError) Error() string { return e.Msg }

// RequestError wraps a failed backend call. The loop aborts on the first one;
// no partial merge is returned.
type RequestError struct {
	Status string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("export request failed: %v", e.Err)
	}
	return fmt.Sprintf("export request failed for status %q: %v", e.Status, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ResponseError indicates a partial payload that could not be parsed as JSON
// during a multi-status JSON merge.
type ResponseError struct {
	Status string
	Err    error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unparseable export payload for status %q: %v", e.Status, e.Err)
}

func (e *ResponseError) Unwrap() error { return e.Err }
