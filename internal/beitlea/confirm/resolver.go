// Package confirm resolves a user's reply to a pending-request confirmation
// question into a decision, using language-specific keyword matching rather
// than another model call.
package confirm

import "strings"

// Decision is the outcome of resolving one confirmation reply.
type Decision int

const (
	// DecisionAmbiguous means the reply matched neither keyword set; the
	// confirmation question should be asked again.
	DecisionAmbiguous Decision = iota

	// DecisionConfirmed means the user approved the pending request.
	DecisionConfirmed

	// DecisionRejected means the user cancelled the pending request.
	DecisionRejected
)

// String implements fmt.Stringer, for log output.
func (d Decision) String() string {
	switch d {
	case DecisionConfirmed:
		return "confirmed"
	case DecisionRejected:
		return "rejected"
	default:
		return "ambiguous"
	}
}

// sharedConfirm and sharedReject match regardless of language; transliterated
// affirmations show up in Hebrew conversations all the time.
var (
	sharedConfirm = []string{"ok", "okay", "yes"}
	sharedReject  = []string{"no"}
)

var confirmWords = map[string][]string{
	"he": {"כן", "אישור", "לאשר", "בסדר", "אוקי", "נכון", "מאשר"},
	"en": {"yes", "confirm", "sure", "correct", "approved"},
	"fr": {"oui", "d'accord", "confirme", "exact"},
}

var rejectWords = map[string][]string{
	"he": {"לא", "ביטול", "לבטל", "שגוי", "טעות"},
	"en": {"cancel", "wrong", "mistake", "reject"},
	"fr": {"non", "annuler", "erreur", "faux"},
}

// Resolve classifies a reply received while a confirmation is pending.
//
// Matching is case-insensitive substring search over the language's keyword
// set plus the shared set, with confirmation checked before rejection so that
// replies containing both lean toward submitting. A confirmation only counts
// when a pending request actually exists; a rejection is honored either way,
// since cancelling nothing is harmless. Unknown language tags use the Hebrew
// keyword set, the deployment default.
func Resolve(message, languageTag string, hasPending bool) Decision {
	lowered := strings.ToLower(message)

	if hasPending && matches(lowered, languageTag, confirmWords, sharedConfirm) {
		return DecisionConfirmed
	}
	if matches(lowered, languageTag, rejectWords, sharedReject) {
		return DecisionRejected
	}
	return DecisionAmbiguous
}

func matches(lowered, languageTag string, byLanguage map[string][]string, shared []string) bool {
	words, ok := byLanguage[languageTag]
	if !ok {
		words = byLanguage["he"]
	}
	for _, w := range words {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	for _, w := range shared {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}
