// Package redact provides helpers for stripping sensitive values from log
// output before it leaves the process boundary.
//
// # Threat model
//
// Two classes of sensitive data flow through the bot:
//   - Credentials (WhatsApp access token, OpenAI API key, Matrix token) must
//     never appear in log lines or error messages returned to callers.
//   - Phone numbers are personal data; logs keep only enough of the number to
//     correlate a support case, never the full identifier.
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.  It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, whatsappToken, apiKey)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Phone masks a phone-number-like identifier for logging, keeping the leading
// country-code digits and the last three digits: "+972501234567" becomes
// "+9725******567".  Identifiers too short to mask meaningfully are returned
// as a fixed-width placeholder so the log line still shows that a value was
// present.
func Phone(identifier string) string {
	head := 4
	if strings.HasPrefix(identifier, "+") {
		head = 5
	}
	tail := 3
	// At least one digit must actually be masked; anything shorter gets the
	// fixed placeholder.
	masked := len(identifier) - head - tail
	if masked < 1 {
		return "***"
	}
	return identifier[:head] + strings.Repeat("*", masked) + identifier[len(identifier)-tail:]
}
