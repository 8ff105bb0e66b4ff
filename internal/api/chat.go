package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/digilab/digibot/internal/log"
	"github.com/digilab/digibot/internal/relay"
)

// Request size limits.
const (
	maxRequestBodySize = 1024 * 1024 // 1 MB
)

// defaultExchangeTimeout bounds one exchange end to end. The original
// design relied entirely on transport-level disconnection; the explicit
// deadline is a hardening, not a behavior change.
const defaultExchangeTimeout = 2 * time.Minute

// chatHandler serves the chat exchange endpoints.
type chatHandler struct {
	relay   *relay.Service
	timeout time.Duration
	logger  log.Logger
}

// chatRequest is the inbound exchange payload.
type chatRequest struct {
	ReportID      string `json:"reportId"`
	SessionID     string `json:"sessionId"`
	Message       string `json:"message"`
	ReportContext string `json:"reportContext"`
	ViewerID      string `json:"viewerId"`
}

// decodeChatRequest parses and validates the request body. The required
// fields are rejected here, before any external call is made.
func (h *chatHandler) decodeChatRequest(w http.ResponseWriter, r *http.Request) (relay.Request, bool) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", h.logger)
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		}
		return relay.Request{}, false
	}

	if req.ReportID == "" {
		writeError(w, http.StatusBadRequest, "reportId is required", h.logger)
		return relay.Request{}, false
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required", h.logger)
		return relay.Request{}, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required", h.logger)
		return relay.Request{}, false
	}

	return relay.Request{
		ReportID:      req.ReportID,
		SessionID:     req.SessionID,
		ViewerID:      req.ViewerID,
		Message:       req.Message,
		ReportContext: req.ReportContext,
	}, true
}

// stream handles POST /api/v1/chat/stream.
//
// The response is a stream of "data: " events: {"content":...} per
// fragment, [DONE] on success. Failures before the first fragment return
// a plain JSON error body with a non-2xx status; failures after
// streaming has begun send a final {"error":...} event instead, and the
// stream never reaches [DONE].
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	es, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported", h.logger)
		return
	}

	// Caller disconnection propagates through r.Context() to the
	// outbound provider call; the deadline bounds the whole exchange.
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.logger.Debug("chat stream started",
		"session_id", req.SessionID,
		"request_id", requestIDFromContext(r.Context()),
	)

	result, err := h.relay.Stream(ctx, req, es.Fragment)
	if err != nil {
		h.streamError(w, es, req.SessionID, err)
		return
	}

	if err := es.Done(); err != nil {
		h.logger.Debug("failed to write done sentinel", "session_id", req.SessionID, "error", err)
		return
	}

	h.logger.Info("chat stream completed",
		"session_id", req.SessionID,
		"fragments", result.Fragments,
	)
}

// streamError maps relay errors onto the wire. Before any fragment has
// been written the response is still a plain JSON error; afterwards the
// only option left is the stream's error event.
func (h *chatHandler) streamError(w http.ResponseWriter, es *eventStream, sessionID string, err error) {
	if errors.Is(err, relay.ErrAborted) {
		// The caller is gone; there is nobody left to write to.
		h.logger.Info("chat stream aborted", "session_id", sessionID, "error", err)
		return
	}

	h.logger.Error("chat stream failed", "session_id", sessionID, "error", err)

	if es.Started() {
		if werr := es.Error(publicErrorMessage(err)); werr != nil {
			h.logger.Debug("failed to write error event", "session_id", sessionID, "error", werr)
		}
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, relay.ErrProvider), errors.Is(err, relay.ErrInterrupted):
		status = http.StatusBadGateway
	case errors.Is(err, relay.ErrUserPersist):
		status = http.StatusInternalServerError
	}
	writeError(w, status, publicErrorMessage(err), h.logger)
}

// publicErrorMessage returns a caller-safe description of a relay error.
// Internal detail stays in the logs.
func publicErrorMessage(err error) string {
	switch {
	case errors.Is(err, relay.ErrInvalidRequest):
		return "missing required field"
	case errors.Is(err, relay.ErrUserPersist):
		return "failed to store message"
	case errors.Is(err, relay.ErrProvider):
		return "completion request failed"
	case errors.Is(err, relay.ErrInterrupted):
		return "completion stream interrupted"
	default:
		return "internal error"
	}
}

// send handles POST /api/v1/chat, the non-streaming fallback. The full
// reply and the provider-reported token usage come back in one JSON
// response.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.relay.Complete(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, relay.ErrInvalidRequest):
			status = http.StatusBadRequest
		case errors.Is(err, relay.ErrProvider):
			status = http.StatusBadGateway
		}
		h.logger.Error("chat completion failed", "session_id", req.SessionID, "error", err)
		writeError(w, status, publicErrorMessage(err), h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"reply":   result.Reply,
	}, h.logger)
}
