package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventStream writes the chat response stream. Events are "data: " lines:
// a JSON object {"content": ...} per text fragment, {"error": ...} when
// the stream breaks, and the literal [DONE] on successful completion.
//
// Headers are sent lazily on the first write, so a handler that fails
// before any fragment can still return a plain JSON error response.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// newEventStream verifies streaming support on the response writer.
func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &eventStream{w: w, flusher: flusher}, nil
}

// Started reports whether stream headers have been sent. Once true, the
// response can no longer carry a plain JSON error body.
func (s *eventStream) Started() bool {
	return s.started
}

// start sends the stream headers.
func (s *eventStream) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// writeData writes one "data: " line and flushes immediately.
func (s *eventStream) writeData(payload string) error {
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write stream event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeJSONData marshals v and writes it as one data line.
func (s *eventStream) writeJSONData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	return s.writeData(string(data))
}

// Fragment forwards one incremental text fragment.
func (s *eventStream) Fragment(text string) error {
	return s.writeJSONData(map[string]string{"content": text})
}

// Error sends the stream's failure signal.
func (s *eventStream) Error(message string) error {
	return s.writeJSONData(map[string]string{"error": message})
}

// Done sends the completion sentinel.
func (s *eventStream) Done() error {
	return s.writeData("[DONE]")
}
