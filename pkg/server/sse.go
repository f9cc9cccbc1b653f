package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ssePaddingBytes is the minimum size of the comment flushed before the
// first token-bearing event. Intermediate proxies buffer small responses;
// a payload past their threshold forces incremental delivery.
const ssePaddingBytes = 2048

// sseWriter frames events as `event: <name>` + `data: <json>` blocks.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	padded  bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// pad emits the anti-buffering comment once.
func (s *sseWriter) pad() {
	if s.padded {
		return
	}
	s.padded = true
	fmt.Fprintf(s.w, ": %s\n\n", strings.Repeat(" ", ssePaddingBytes))
	s.flusher.Flush()
}

// send writes one named event with a JSON payload.
func (s *sseWriter) send(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
