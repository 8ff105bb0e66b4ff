// Package relay implements the completion relay: one chat exchange from
// inbound request to persisted reply.
//
// Each exchange runs as a single sequential pipeline: resolve config,
// load history, assemble prompt, persist the user turn, open the provider
// stream, forward fragments, persist the assistant turn. There is no
// internal parallelism; concurrent sessions are independent and share no
// mutable in-process state.
//
// The streaming exchange is a small state machine:
//
//	Idle → AwaitingHeaders → Streaming → Completed
//	                      ↘ Failed          ↘ Failed | Aborted
//
// The user turn is always persisted before the provider call begins, so
// the user's input survives any downstream failure. The assistant turn is
// persisted only when the provider's end-of-stream sentinel is observed;
// partial text from a failed or aborted stream is discarded, never
// stored. A persisted assistant turn therefore always represents a
// complete reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/digilab/digibot/internal/assistant"
	"github.com/digilab/digibot/internal/log"
	"github.com/digilab/digibot/internal/prompt"
	"github.com/digilab/digibot/internal/provider"
	"github.com/digilab/digibot/internal/turn"
)

// Sentinel errors for classification at the HTTP boundary.
var (
	// ErrInvalidRequest indicates a required request field is missing.
	ErrInvalidRequest = errors.New("invalid exchange request")

	// ErrUserPersist indicates the user turn could not be written.
	// The exchange stops before any provider call is made.
	ErrUserPersist = errors.New("persisting user turn failed")

	// ErrProvider indicates the provider rejected the request before
	// streaming began.
	ErrProvider = errors.New("provider request failed")

	// ErrInterrupted indicates the stream broke mid-flight; accumulated
	// partial text was discarded.
	ErrInterrupted = errors.New("stream interrupted")

	// ErrAborted indicates the caller went away before completion.
	ErrAborted = errors.New("exchange aborted by caller")
)

// State identifies where a streaming exchange ended up.
type State int

// Exchange states. Completed, Failed, and Aborted are terminal.
const (
	StateIdle State = iota
	StateAwaitingHeaders
	StateStreaming
	StateCompleted
	StateFailed
	StateAborted
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHeaders:
		return "awaiting_headers"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return "unknown"
}

// Request describes one inbound chat exchange.
type Request struct {
	ReportID      string
	SessionID     string
	ViewerID      string
	Message       string
	ReportContext string
}

// validate checks required fields. Report id, session id, and message
// are required; rejection happens before any external call.
func (r Request) validate() error {
	if strings.TrimSpace(r.ReportID) == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	return nil
}

// Result summarizes a finished exchange.
type Result struct {
	Reply     string // full accumulated reply (empty unless Completed)
	Fragments int    // fragments forwarded to the caller
	State     State
}

// HistoryLoader loads the most recent turns of a session, oldest first.
type HistoryLoader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]turn.Turn, error)
}

// Sink persists turns. Writes are append-only and non-transactional;
// the relay owns all writes for an exchange.
type Sink interface {
	Append(ctx context.Context, t turn.Turn) error
}

// Stream yields decoded provider events in arrival order.
type Stream interface {
	Next() (provider.Event, error)
	Close() error
}

// Completer opens completions against the text-generation provider.
type Completer interface {
	StreamChat(ctx context.Context, req provider.Request) (Stream, error)
	Chat(ctx context.Context, req provider.Request) (provider.Response, error)
}

// ClientCompleter adapts *provider.Client to the Completer interface.
type ClientCompleter struct {
	Client *provider.Client
}

// StreamChat opens a streaming completion.
func (c ClientCompleter) StreamChat(ctx context.Context, req provider.Request) (Stream, error) {
	s, err := c.Client.StreamChat(ctx, req)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Chat performs a non-streaming completion.
func (c ClientCompleter) Chat(ctx context.Context, req provider.Request) (provider.Response, error) {
	return c.Client.Chat(ctx, req)
}

// Service wires the exchange pipeline together.
type Service struct {
	configs      assistant.Resolver
	history      HistoryLoader
	sink         Sink
	completer    Completer
	historyLimit int
	logger       log.Logger
}

// NewService creates a relay service. historyLimit caps how many prior
// turns are loaded per exchange.
func NewService(configs assistant.Resolver, history HistoryLoader, sink Sink,
	completer Completer, historyLimit int, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		configs:      configs,
		history:      history,
		sink:         sink,
		completer:    completer,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

// prepare runs the shared head of both exchange modes: resolve config,
// load history (failure degrades to empty), assemble the message list,
// and persist the user turn.
func (s *Service) prepare(ctx context.Context, req Request) (assistant.Config, []provider.Message, error) {
	cfg := s.configs.Resolve(ctx)

	history, err := s.history.Recent(ctx, req.SessionID, s.historyLimit)
	if err != nil {
		// Availability over completeness: a history lookup failure must
		// not fail the exchange.
		s.logger.Warn("history load failed, proceeding with empty history",
			"session_id", req.SessionID, "error", err)
		history = nil
	}

	messages := prompt.BuildMessages(cfg, req.ReportContext, history, req.Message)

	// The user turn is written before the provider call so the input is
	// never lost, even when the completion fails.
	if err := s.sink.Append(ctx, turn.Turn{
		SessionID: req.SessionID,
		ReportID:  req.ReportID,
		ViewerID:  req.ViewerID,
		Role:      turn.RoleUser,
		Content:   req.Message,
	}); err != nil {
		return cfg, nil, fmt.Errorf("%w: %w", ErrUserPersist, err)
	}

	return cfg, messages, nil
}

// Stream runs one streaming exchange. Every recognized fragment is
// passed to emit in arrival order before the next event is read; an emit
// error is treated as caller disconnection.
//
// On success the full reply is persisted as one assistant turn and
// returned. On any failure or abort nothing is persisted for the
// assistant side and the partial text is discarded.
func (s *Service) Stream(ctx context.Context, req Request, emit func(fragment string) error) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{State: StateFailed}, err
	}

	cfg, messages, err := s.prepare(ctx, req)
	if err != nil {
		return Result{State: StateFailed}, err
	}

	// Idle → AwaitingHeaders: the prompt is submitted with streaming on.
	stream, err := s.completer.StreamChat(ctx, provider.Request{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{State: StateAborted}, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		return Result{State: StateFailed}, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer func() { _ = stream.Close() }()

	var reply strings.Builder
	fragments := 0

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("caller disconnected mid-stream",
				"session_id", req.SessionID, "fragments", fragments)
			return Result{Fragments: fragments, State: StateAborted},
				fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		default:
		}

		ev, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return Result{Fragments: fragments, State: StateAborted},
					fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
			}
			// Includes io.EOF: a stream that ends without the sentinel
			// is an interrupted stream, and its partial text is dropped.
			return Result{Fragments: fragments, State: StateFailed},
				fmt.Errorf("%w: %w", ErrInterrupted, err)
		}

		switch ev.Kind {
		case provider.EventFragment:
			reply.WriteString(ev.Text)
			if err := emit(ev.Text); err != nil {
				s.logger.Info("fragment write failed, treating as disconnect",
					"session_id", req.SessionID, "error", err)
				return Result{Fragments: fragments, State: StateAborted},
					fmt.Errorf("%w: %w", ErrAborted, err)
			}
			fragments++

		case provider.EventDone:
			return s.complete(ctx, req, reply.String(), fragments)

		case provider.EventMalformed:
			// Best-effort parse policy: skip silently.
		}
	}
}

// complete finalizes a successful stream: the accumulated reply is
// persisted as a single assistant turn. A write failure here is logged
// rather than surfaced; the caller already holds the complete reply,
// and the stored history simply gains a gap, which readers accept.
func (s *Service) complete(ctx context.Context, req Request, reply string, fragments int) (Result, error) {
	if err := s.sink.Append(ctx, turn.Turn{
		SessionID: req.SessionID,
		ReportID:  req.ReportID,
		ViewerID:  req.ViewerID,
		Role:      turn.RoleAssistant,
		Content:   reply,
		// Token usage is not reported on the streaming path.
		TokensUsed: 0,
	}); err != nil {
		s.logger.Error("persisting assistant turn failed",
			"session_id", req.SessionID, "error", err)
	}

	s.logger.Debug("exchange completed",
		"session_id", req.SessionID, "fragments", fragments, "reply_len", len(reply))

	return Result{Reply: reply, Fragments: fragments, State: StateCompleted}, nil
}

// Complete runs one non-streaming exchange. The same pipeline as Stream
// without fragment forwarding; the provider's reported token usage is
// persisted with the assistant turn.
func (s *Service) Complete(ctx context.Context, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{State: StateFailed}, err
	}

	cfg, messages, err := s.prepare(ctx, req)
	if err != nil {
		return Result{State: StateFailed}, err
	}

	resp, err := s.completer.Chat(ctx, provider.Request{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{State: StateAborted}, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		return Result{State: StateFailed}, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	if err := s.sink.Append(ctx, turn.Turn{
		SessionID:  req.SessionID,
		ReportID:   req.ReportID,
		ViewerID:   req.ViewerID,
		Role:       turn.RoleAssistant,
		Content:    resp.Content,
		TokensUsed: resp.TokensUsed,
	}); err != nil {
		s.logger.Error("persisting assistant turn failed",
			"session_id", req.SessionID, "error", err)
	}

	return Result{Reply: resp.Content, State: StateCompleted}, nil
}
