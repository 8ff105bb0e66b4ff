// Package turn provides conversation turn persistence for chat sessions.
//
// A turn is one message (user, assistant, or system) in a conversation,
// grouped by an opaque session identifier. Turns are append-only: the
// user turn of an exchange is written before the completion call begins,
// and the assistant turn is written only after the completion stream
// finishes. The two writes are independent; a user turn with no matching
// assistant turn is valid history (the completion failed), and readers
// join the two at query time by session id and timestamp order.
package turn

import (
	"time"

	"github.com/google/uuid"
)

// Role constants define valid turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn represents a single conversation turn.
type Turn struct {
	ID         uuid.UUID
	SessionID  string
	ReportID   string // optional, empty when the turn is not tied to a report
	ViewerID   string // optional
	Role       string // "user" | "assistant" | "system"
	Content    string
	TokensUsed int // 0 when usage is unknown (streaming path)
	CreatedAt  time.Time
}

// ValidRole reports whether r is a recognized turn role.
func ValidRole(r string) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
