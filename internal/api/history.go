package api

import (
	"context"
	"net/http"
	"time"

	"github.com/digilab/digibot/internal/log"
	"github.com/digilab/digibot/internal/turn"
)

// TranscriptLoader reads the user-visible conversation of a session.
type TranscriptLoader interface {
	Transcript(ctx context.Context, sessionID string) ([]turn.Turn, error)
}

// historyHandler serves stored conversation transcripts.
type historyHandler struct {
	turns  TranscriptLoader
	logger log.Logger
}

// transcriptMessage is the wire shape of one stored turn.
type transcriptMessage struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokensUsed int       `json:"tokensUsed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// messages handles GET /api/v1/sessions/{id}/messages. Returns the
// user and assistant turns of the session in timestamp order. An
// unknown session id yields an empty list, not an error.
func (h *historyHandler) messages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required", h.logger)
		return
	}

	turns, err := h.turns.Transcript(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("transcript load failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages", h.logger)
		return
	}

	messages := make([]transcriptMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, transcriptMessage{
			ID:         t.ID.String(),
			Role:       t.Role,
			Content:    t.Content,
			TokensUsed: t.TokensUsed,
			CreatedAt:  t.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": messages,
	}, h.logger)
}
