package turn

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/digilab/digibot/internal/log"
)

// Store persists conversation turns in PostgreSQL.
//
// Store is safe for concurrent use; correctness across concurrent
// sessions rests on the session id as a partition key in storage, not on
// in-process locking.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a turn store backed by the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Append writes a single turn. Append-only: stored turns are never
// mutated. The database assigns id and created_at.
func (s *Store) Append(ctx context.Context, t Turn) error {
	if t.SessionID == "" {
		return fmt.Errorf("append turn: session id is required")
	}
	if !ValidRole(t.Role) {
		return fmt.Errorf("append turn: invalid role %q", t.Role)
	}

	const q = `
		INSERT INTO chat_messages (report_id, session_id, viewer_id, role, content, tokens_used)
		VALUES (NULLIF($1, ''), $2, NULLIF($3, ''), $4, $5, $6)`

	if _, err := s.pool.Exec(ctx, q, t.ReportID, t.SessionID, t.ViewerID, t.Role, t.Content, t.TokensUsed); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}

	s.logger.Debug("appended turn", "session_id", t.SessionID, "role", t.Role, "tokens", t.TokensUsed)
	return nil
}

// Recent returns up to limit of the most recent turns for a session,
// oldest first. No role filtering happens here; transcript and prompt
// assembly apply their own filters downstream.
//
// Ordering is by (created_at, id): id breaks timestamp ties so two turns
// written in the same clock instant keep insertion order.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	const q = `
		SELECT id, session_id, COALESCE(report_id, ''), COALESCE(viewer_id, ''),
		       role, content, tokens_used, created_at
		FROM (
			SELECT id, session_id, report_id, viewer_id, role, content, tokens_used, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("loaded recent turns", "session_id", sessionID, "count", len(turns))
	return turns, nil
}

// Transcript returns all user and assistant turns of a session in
// timestamp order. System turns are excluded; they are model input, not
// user-facing conversation. Gaps (a user turn with no assistant reply)
// are returned as-is; an assistant-less exchange is a legitimate state.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]Turn, error) {
	const q = `
		SELECT id, session_id, COALESCE(report_id, ''), COALESCE(viewer_id, ''),
		       role, content, tokens_used, created_at
		FROM chat_messages
		WHERE session_id = $1 AND role IN ('user', 'assistant')
		ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	return scanTurns(rows)
}

// scanTurns collects rows into Turn values.
func scanTurns(rows pgx.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.ReportID, &t.ViewerID,
			&t.Role, &t.Content, &t.TokensUsed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}
