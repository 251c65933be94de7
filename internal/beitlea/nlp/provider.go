// Package nlp holds the language-model boundary of the intake bot: composing
// the per-turn instruction set, performing the single-turn completion call,
// and parsing the delimited request block out of the raw model output.
//
// Every call is stateless — no conversation history is replayed. The model
// sees only the policy prompt, a short contextual note carrying the user's
// display name, and the current message. This is a deliberate design choice
// inherited from the confirmation protocol, not an optimisation to revisit
// casually: adding hidden memory would change what a "pending request"
// means between turns.
package nlp

import (
	"context"
)

// Payload is the full instruction set for one model call.
type Payload struct {
	// System is the fixed policy prompt selected by language.
	System string

	// ContextNote is a short second system message carrying per-user context
	// (currently the display name). May be empty.
	ContextNote string

	// User is the inbound message text, verbatim.
	User string
}

// Completer performs a single-turn chat completion and returns the raw model
// text. Implementations must apply a bounded timeout; a timeout is reported
// as an ordinary error.
type Completer interface {
	Complete(ctx context.Context, p Payload) (string, error)
}
