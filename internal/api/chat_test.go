package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/digilab/digibot/internal/assistant"
	"github.com/digilab/digibot/internal/log"
	"github.com/digilab/digibot/internal/provider"
	"github.com/digilab/digibot/internal/relay"
	"github.com/digilab/digibot/internal/testutil"
	"github.com/digilab/digibot/internal/turn"
)

// memorySink is an in-memory turn store for handler tests.
type memorySink struct {
	mu       sync.Mutex
	turns    []turn.Turn
	failUser bool
}

func (m *memorySink) Append(_ context.Context, t turn.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUser && t.Role == turn.RoleUser {
		return errors.New("insert failed")
	}
	m.turns = append(m.turns, t)
	return nil
}

func (m *memorySink) Recent(context.Context, string, int) ([]turn.Turn, error) {
	return nil, nil
}

// scriptedStream yields a fixed event sequence.
type scriptedStream struct {
	events []provider.Event
	pos    int
}

func (s *scriptedStream) Next() (provider.Event, error) {
	if s.pos >= len(s.events) {
		return provider.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedCompleter struct {
	events  []provider.Event
	openErr error
}

func (c *scriptedCompleter) StreamChat(context.Context, provider.Request) (relay.Stream, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &scriptedStream{events: c.events}, nil
}

func (c *scriptedCompleter) Chat(context.Context, provider.Request) (provider.Response, error) {
	if c.openErr != nil {
		return provider.Response{}, c.openErr
	}
	var b strings.Builder
	for _, ev := range c.events {
		if ev.Kind == provider.EventFragment {
			b.WriteString(ev.Text)
		}
	}
	return provider.Response{Content: b.String(), TokensUsed: 7}, nil
}

func newTestHandler(sink *memorySink, completer relay.Completer) http.Handler {
	svc := relay.NewService(
		assistant.StaticResolver{Config: assistant.Config{Model: "gpt-4o-mini", MaxTokens: 100}},
		sink, sink, completer, 15, log.NewNop(),
	)
	return NewServer(ServerConfig{
		Logger: log.NewNop(),
		Relay:  svc,
	})
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const validBody = `{"reportId":"r1","sessionId":"s1","message":"hello"}`

func TestChatStreamSuccess(t *testing.T) {
	sink := &memorySink{}
	handler := newTestHandler(sink, &scriptedCompleter{events: []provider.Event{
		{Kind: provider.EventFragment, Text: "Hel"},
		{Kind: provider.EventFragment, Text: "lo"},
		{Kind: provider.EventDone},
	}})

	rec := postJSON(t, handler, "/api/v1/chat/stream", validBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	payloads := testutil.ParseDataLines(t, rec.Body.String())
	want := []string{`{"content":"Hel"}`, `{"content":"lo"}`, "[DONE]"}
	if len(payloads) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(payloads), payloads, len(want))
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, payloads[i], want[i])
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.turns) != 2 {
		t.Fatalf("persisted %d turns, want user + assistant", len(sink.turns))
	}
	if sink.turns[1].Content != "Hello" {
		t.Errorf("assistant turn = %q, want %q", sink.turns[1].Content, "Hello")
	}
}

func TestChatStreamValidation(t *testing.T) {
	handler := newTestHandler(&memorySink{}, &scriptedCompleter{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing reportId", `{"sessionId":"s1","message":"m"}`, "reportId is required"},
		{"missing sessionId", `{"reportId":"r1","message":"m"}`, "sessionId is required"},
		{"missing message", `{"reportId":"r1","sessionId":"s1"}`, "message is required"},
		{"invalid json", `{broken`, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, handler, "/api/v1/chat/stream", tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("response is not JSON: %v", err)
			}
			if body.Success {
				t.Error("success = true on a failure response")
			}
			if body.Error != tt.want {
				t.Errorf("error = %q, want %q", body.Error, tt.want)
			}
		})
	}
}

func TestChatStreamPreStreamFailureIsJSON(t *testing.T) {
	handler := newTestHandler(&memorySink{},
		&scriptedCompleter{openErr: errors.New("upstream down")})

	rec := postJSON(t, handler, "/api/v1/chat/stream", validBody)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if body.Success {
		t.Error("success = true on a failure response")
	}
}

func TestChatStreamUserPersistFailure(t *testing.T) {
	handler := newTestHandler(&memorySink{failUser: true}, &scriptedCompleter{})

	rec := postJSON(t, handler, "/api/v1/chat/stream", validBody)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestChatStreamMidStreamFailure(t *testing.T) {
	sink := &memorySink{}
	// Fragments with no done sentinel: the stream breaks mid-flight.
	handler := newTestHandler(sink, &scriptedCompleter{events: []provider.Event{
		{Kind: provider.EventFragment, Text: "par"},
		{Kind: provider.EventFragment, Text: "tial"},
	}})

	rec := postJSON(t, handler, "/api/v1/chat/stream", validBody)

	// Headers went out with the first fragment.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (headers already sent)", rec.Code)
	}

	payloads := testutil.ParseDataLines(t, rec.Body.String())
	if len(payloads) != 3 {
		t.Fatalf("got %d events %v, want 2 fragments + error", len(payloads), payloads)
	}
	var last struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(payloads[2]), &last); err != nil {
		t.Fatalf("final event %q is not JSON: %v", payloads[2], err)
	}
	if last.Error == "" {
		t.Errorf("final event %q is not an error event", payloads[2])
	}
	for _, p := range payloads {
		if p == "[DONE]" {
			t.Error("interrupted stream carried the done sentinel")
		}
	}

	// Partial text is never stored.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, tr := range sink.turns {
		if tr.Role == turn.RoleAssistant {
			t.Errorf("assistant turn %q persisted from an interrupted stream", tr.Content)
		}
	}
}

func TestChatSend(t *testing.T) {
	sink := &memorySink{}
	handler := newTestHandler(sink, &scriptedCompleter{events: []provider.Event{
		{Kind: provider.EventFragment, Text: "full reply"},
	}})

	rec := postJSON(t, handler, "/api/v1/chat", validBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success bool   `json:"success"`
		Reply   string `json:"reply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if !body.Success || body.Reply != "full reply" {
		t.Errorf("body = %+v", body)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.turns) != 2 || sink.turns[1].TokensUsed != 7 {
		t.Errorf("turns = %+v, want assistant turn with provider-reported tokens", sink.turns)
	}
}

// TestChatStreamAgainstWireProvider runs the full path: HTTP handler,
// relay, real provider client, fake upstream speaking the completions
// wire format.
func TestChatStreamAgainstWireProvider(t *testing.T) {
	upstream := testutil.NewFakeProvider(t, testutil.ProviderScript{
		Fragments: []string{"wire", " reply"},
	})

	sink := &memorySink{}
	svc := relay.NewService(
		assistant.StaticResolver{Config: assistant.Config{Model: "gpt-4o-mini", MaxTokens: 100}},
		sink, sink,
		relay.ClientCompleter{Client: provider.NewClient(upstream.URL(), "test-key")},
		15, log.NewNop(),
	)
	handler := NewServer(ServerConfig{Logger: log.NewNop(), Relay: svc})

	rec := postJSON(t, handler, "/api/v1/chat/stream", validBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body.String())
	}
	payloads := testutil.ParseDataLines(t, rec.Body.String())
	if len(payloads) != 3 || payloads[2] != "[DONE]" {
		t.Fatalf("events = %v, want 2 fragments + [DONE]", payloads)
	}

	reqs := upstream.Requests()
	if len(reqs) != 1 {
		t.Fatalf("provider saw %d requests, want 1", len(reqs))
	}
	if !reqs[0].Stream {
		t.Error("provider request did not ask for streaming")
	}
	if got := len(reqs[0].Messages); got != 2 {
		t.Errorf("provider got %d messages, want system + user", got)
	}
}
