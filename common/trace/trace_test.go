package trace_test

import (
	"context"
	"strings"
	"testing"

	"github.com/automatifie1-cpu/beit-lea/common/trace"
)

func TestGenerateID_Unique(t *testing.T) {
	a := trace.GenerateID()
	b := trace.GenerateID()
	if a == b {
		t.Errorf("expected distinct IDs, got %q twice", a)
	}
	if !strings.HasPrefix(a, "t_") {
		t.Errorf("expected t_ prefix, got %q", a)
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_abc")
	if got := trace.FromContext(ctx); got != "t_abc" {
		t.Errorf("expected t_abc, got %q", got)
	}
	if got := trace.FromContext(context.Background()); got != "" {
		t.Errorf("expected empty trace ID, got %q", got)
	}
}

func TestEnsure(t *testing.T) {
	ctx := trace.WithTraceID(context.Background(), "t_existing")
	_, id := trace.Ensure(ctx)
	if id != "t_existing" {
		t.Errorf("expected existing ID to be kept, got %q", id)
	}

	ctx2, id2 := trace.Ensure(context.Background())
	if id2 == "" {
		t.Fatal("expected a generated trace ID")
	}
	if got := trace.FromContext(ctx2); got != id2 {
		t.Errorf("context does not carry the generated ID: %q vs %q", got, id2)
	}
}
