// Package conversation persists per-user conversation state for the intake
// flow: where the user is in the chat → confirm → done negotiation, the text
// of the request awaiting confirmation, and an advisory turn history.
//
// Records are keyed by the opaque channel identifier (a phone number for
// WhatsApp, an MXID for Matrix). All mutations are per-key atomic UPDATEs
// against SQLite, so concurrent handler instances for different users never
// lose each other's writes.
package conversation

import (
	"time"
)

// State represents the position of a conversation in the intake negotiation.
type State string

const (
	// StateChatting means free conversation; the next message goes to the model.
	StateChatting State = "chatting"

	// StateConfirming means a summarized request is held and the next message
	// is interpreted as a yes/no confirmation reply.
	StateConfirming State = "confirming_request"

	// StateCompleted means the last request was confirmed and handed to the
	// sink. The next inbound message starts a fresh cycle.
	StateCompleted State = "completed"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTimeout is the inactivity window after which a conversation record
// is treated as absent and replaced by a fresh one on next access.
const DefaultTimeout = 30 * time.Minute

// Record is the per-identifier conversation state.
//
// Invariant: PendingRequest is non-empty if and only if State is
// StateConfirming. The store enforces this by clearing the pending text in
// the same statement as any transition away from StateConfirming.
type Record struct {
	// Identifier is the opaque channel key (phone number, MXID).
	Identifier string

	// State is the current negotiation position.
	State State

	// PendingRequest is the summarized request awaiting confirmation,
	// empty unless State == StateConfirming.
	PendingRequest string

	// CreatedAt is when this record (not the identifier) first appeared.
	CreatedAt time.Time

	// LastActivityAt is refreshed on every access and mutation; it drives
	// the inactivity expiry.
	LastActivityAt time.Time
}

// Turn is one recorded message in a conversation's advisory history.
// History is kept for audit and debugging only — the model call is stateless
// per turn and never replays it.
type Turn struct {
	Role      string
	Content   string
	CreatedAt time.Time
}
