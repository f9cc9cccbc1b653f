package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrModelMissing is returned when the requested model is not present on the
// runtime and auto-pull is disabled.
var ErrModelMissing = errors.New("model not available")

// HTTPError is a non-2xx response from the model runtime. Snippet holds the
// start of the response body, with the runtime's {"error": ...} message
// extracted when the body is JSON.
type HTTPError struct {
	StatusCode int
	Snippet    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("llm: runtime returned status %d: %s", e.StatusCode, e.Snippet)
}

// ProtocolError is a malformed stream from the model runtime.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm: protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("llm: protocol error: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

const errorBodyLimit = 512

// newHTTPError reads a bounded snippet of the response body, probing it for
// the runtime's JSON error envelope.
func newHTTPError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	var probe struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Error != "" {
		return &HTTPError{StatusCode: resp.StatusCode, Snippet: probe.Error}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Snippet: string(body)}
}
