package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEventStreamLazyHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	es, err := newEventStream(rec)
	if err != nil {
		t.Fatalf("newEventStream() error = %v", err)
	}

	if es.Started() {
		t.Error("stream reported started before any write")
	}
	if rec.Header().Get("Content-Type") != "" {
		t.Error("headers sent before first write")
	}

	if err := es.Fragment("hi"); err != nil {
		t.Fatalf("Fragment() error = %v", err)
	}

	if !es.Started() {
		t.Error("stream not started after first write")
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}
	if !rec.Flushed {
		t.Error("fragment was not flushed")
	}
}

func TestEventStreamWireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	es, err := newEventStream(rec)
	if err != nil {
		t.Fatalf("newEventStream() error = %v", err)
	}

	if err := es.Fragment(`with "quotes" and newline` + "\n"); err != nil {
		t.Fatalf("Fragment() error = %v", err)
	}
	if err := es.Error("stream broke"); err != nil {
		t.Fatalf("Error() error = %v", err)
	}
	if err := es.Done(); err != nil {
		t.Fatalf("Done() error = %v", err)
	}

	want := `data: {"content":"with \"quotes\" and newline\n"}` + "\n\n" +
		`data: {"error":"stream broke"}` + "\n\n" +
		"data: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

// nopResponseWriter implements http.ResponseWriter without Flusher.
type nopResponseWriter struct{}

func (nopResponseWriter) Header() http.Header         { return http.Header{} }
func (nopResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (nopResponseWriter) WriteHeader(int)             {}

func TestEventStreamRequiresFlusher(t *testing.T) {
	if _, err := newEventStream(nopResponseWriter{}); err == nil {
		t.Error("newEventStream accepted a writer without Flusher")
	}
}
