package whatsapp

import "strings"

// NormalizePhone canonicalizes a phone number into E.164-style form with a
// leading plus sign. Israeli local numbers (leading zero) are rewritten to the
// +972 country code, since that is where the deployment's users are; numbers
// already carrying a country code are kept as-is. All formatting characters
// are stripped.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if number == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(number, "972"):
		return "+" + number
	case strings.HasPrefix(number, "0"):
		return "+972" + number[1:]
	default:
		return "+" + number
	}
}
