package redact_test

import (
	"strings"
	"testing"

	"github.com/automatifie1-cpu/beit-lea/common/redact"
)

func TestString(t *testing.T) {
	line := "calling graph api with token=EAAGm0secret123"
	got := redact.String(line, "EAAGm0secret123")
	if strings.Contains(got, "EAAGm0secret123") {
		t.Errorf("token leaked: %q", got)
	}
	if !strings.Contains(got, "[REDACTED]") {
		t.Errorf("expected placeholder in %q", got)
	}
}

func TestString_ShortValuesSkipped(t *testing.T) {
	line := "ok to keep"
	if got := redact.String(line, "ok"); got != line {
		t.Errorf("short value should not be redacted, got %q", got)
	}
}

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+972501234567", "+9725*****567"},
		{"972501234567", "9725*****567"},
		// Boundary lengths: the mask must cover at least one digit, so
		// anything at or below head+tail length degrades to the placeholder.
		{"+123456", "***"},
		{"1234567", "***"},
		{"+12345678", "+1234*678"},
		{"12345678", "1234*678"},
		{"12345", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := redact.Phone(tt.in); got != tt.want {
			t.Errorf("Phone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
