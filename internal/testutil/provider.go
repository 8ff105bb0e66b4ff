package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// ProviderScript controls what the fake completion provider sends back.
//
// The zero value streams nothing and ends with [DONE]. Status, when
// non-zero and not 200, is returned with ErrorBody before any stream
// output. RawLines, when set, are written verbatim instead of the
// generated fragment chunks; this is how tests inject malformed events.
// CutAfter > 0 closes the connection after that many fragment events
// without sending [DONE].
type ProviderScript struct {
	Status    int
	ErrorBody string

	Fragments []string
	RawLines  []string
	CutAfter  int

	// Non-streaming response fields.
	Reply       string
	TotalTokens int
}

// FakeProvider is an httptest server speaking the OpenAI-compatible
// completions wire format. It records the requests it receives.
type FakeProvider struct {
	Server *httptest.Server

	mu       sync.Mutex
	script   ProviderScript
	requests []CapturedRequest
}

// CapturedRequest is one recorded completion request.
type CapturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// NewFakeProvider starts a fake provider with the given script.
// The server is shut down automatically when the test ends.
func NewFakeProvider(t *testing.T, script ProviderScript) *FakeProvider {
	t.Helper()

	fp := &FakeProvider{script: script}
	fp.Server = httptest.NewServer(http.HandlerFunc(fp.handle))
	t.Cleanup(fp.Server.Close)
	return fp
}

// URL returns the provider base URL for client configuration.
func (fp *FakeProvider) URL() string {
	return fp.Server.URL
}

// SetScript swaps the active script.
func (fp *FakeProvider) SetScript(script ProviderScript) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.script = script
}

// Requests returns the captured completion requests.
func (fp *FakeProvider) Requests() []CapturedRequest {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	out := make([]CapturedRequest, len(fp.requests))
	copy(out, fp.requests)
	return out
}

func (fp *FakeProvider) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var req CapturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	fp.mu.Lock()
	fp.requests = append(fp.requests, req)
	script := fp.script
	fp.mu.Unlock()

	if script.Status != 0 && script.Status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(script.Status)
		fmt.Fprintf(w, `{"error":{"message":%q}}`, script.ErrorBody)
		return
	}

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}],"usage":{"total_tokens":%d},"model":%q}`,
			script.Reply, script.TotalTokens, req.Model)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)

	writeLine := func(line string) {
		fmt.Fprintf(w, "%s\n\n", line)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if len(script.RawLines) > 0 {
		for _, line := range script.RawLines {
			writeLine(line)
		}
		return
	}

	for i, frag := range script.Fragments {
		if script.CutAfter > 0 && i == script.CutAfter {
			// Abrupt close, no sentinel.
			return
		}
		chunk, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"delta": map[string]string{"content": frag}},
			},
		})
		writeLine("data: " + string(chunk))
	}
	if script.CutAfter > 0 && script.CutAfter <= len(script.Fragments) {
		return
	}
	writeLine("data: [DONE]")
}
