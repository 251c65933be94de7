package nlp

import "strings"

// Delimiters the policy prompt instructs the model to emit around a
// summarized request.
const (
	openTag  = "[PENDING_REQUEST]"
	closeTag = "[/PENDING_REQUEST]"
)

// TurnResult is the parsed output of one model call. It is consumed
// immediately by the orchestrator and never persisted.
type TurnResult struct {
	// VisibleReply is the text to send back to the user.
	VisibleReply string

	// PendingRequest is the summarized request extracted from the delimited
	// block, empty when no request was detected.
	PendingRequest string
}

// Parse splits raw model output into the user-visible reply and the pending
// request block.
//
// Only output containing exactly one well-formed open/close pair yields a
// pending request. Anything else — a missing tag, duplicated tags, a closing
// tag before the opening one, an empty block — degrades to "no request
// detected" rather than guessing repair logic. When both tags are present the
// surrounding text is still stripped of them so delimiters never leak to the
// user; when a tag is missing the raw text is returned unchanged.
func Parse(raw string) TurnResult {
	open := strings.Index(raw, openTag)
	if open < 0 {
		return TurnResult{VisibleReply: raw}
	}

	rest := raw[open+len(openTag):]
	closeRel := strings.Index(rest, closeTag)
	if closeRel < 0 {
		return TurnResult{VisibleReply: raw}
	}

	if strings.Count(raw, openTag) != 1 || strings.Count(raw, closeTag) != 1 {
		return TurnResult{VisibleReply: raw}
	}

	pending := strings.TrimSpace(rest[:closeRel])

	before := strings.TrimSpace(raw[:open])
	after := strings.TrimSpace(rest[closeRel+len(closeTag):])

	var parts []string
	if before != "" {
		parts = append(parts, before)
	}
	if after != "" {
		parts = append(parts, after)
	}
	visible := strings.Join(parts, "\n\n")

	return TurnResult{VisibleReply: visible, PendingRequest: pending}
}
