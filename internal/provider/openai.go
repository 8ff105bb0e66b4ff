// Package provider implements the client for an OpenAI-compatible
// chat-completion endpoint, in both streaming and non-streaming modes.
//
// Streaming responses arrive as Server-Sent Events: each event is a
// "data: " line carrying a JSON chunk with an incremental content delta,
// terminated by the literal "[DONE]" sentinel. Events are decoded into a
// tagged union (Fragment, Done, Malformed); malformed events are
// surfaced as a distinct kind so callers can skip them without guessing.
package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrStatus is returned when the provider responds with a non-success
// status before producing a stream body.
var ErrStatus = errors.New("provider returned error status")

// Message is one entry of the chat-completion message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat-completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response is the result of a non-streaming completion.
type Response struct {
	Content    string
	TokensUsed int
	Model      string
}

// Client talks to an OpenAI-compatible completion endpoint.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

// NewClient creates a provider client. baseURL is the API root
// (e.g. "https://api.openai.com/v1") without a trailing slash.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		// Transport-level timeouts only cover dial/headers; overall
		// exchange deadlines come from the caller's context.
		httpc: &http.Client{Timeout: 0},
	}
}

// wireRequest is the JSON body sent to the completions endpoint.
type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// Stream is an open streaming completion. Callers must Close it.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// StreamChat opens a streaming completion request. The returned Stream
// yields events in arrival order. Cancel ctx to abandon the stream; the
// underlying connection is torn down, which is as much provider-side
// cancellation as the transport offers.
//
// A non-2xx response is returned as an error wrapping ErrStatus before
// any stream exists.
func (c *Client) StreamChat(ctx context.Context, req Request) (*Stream, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &Stream{body: resp.Body, scanner: scanner}, nil
}

// Next returns the next decoded event. It returns io.EOF when the
// underlying stream ends without a Done sentinel, or the transport error
// that interrupted it. After EventDone, callers should Close the stream.
func (s *Stream) Next() (Event, error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			continue
		}
		return parseLine(line), nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("read stream: %w", err)
	}
	return Event{}, io.EOF
}

// Close releases the stream's connection.
func (s *Stream) Close() error {
	if err := s.body.Close(); err != nil {
		return fmt.Errorf("close stream body: %w", err)
	}
	return nil
}

// wireResponse is the JSON body of a non-streaming completion.
type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

// Chat performs a non-streaming completion. Unlike the streaming path,
// this returns the provider's reported token usage.
func (c *Client) Chat(ctx context.Context, req Request) (Response, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Response{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return Response{}, fmt.Errorf("completion response has no choices")
	}

	return Response{
		Content:    wire.Choices[0].Message.Content,
		TokensUsed: wire.Usage.TotalTokens,
		Model:      wire.Model,
	}, nil
}

// post sends the completion request and checks the response status.
func (c *Client) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body, err := json.Marshal(wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send completion request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorBody(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, msg)
	}

	return resp, nil
}

// readErrorBody extracts a short error message from a failed response.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4*1024))
	if err != nil || len(raw) == 0 {
		return "no error body"
	}

	// Providers usually wrap errors as {"error":{"message":"..."}}.
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	return string(bytes.TrimSpace(raw))
}
