package whatsapp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type captureHandler struct {
	messages chan InboundMessage
}

func (h *captureHandler) HandleMessage(_ context.Context, msg InboundMessage) {
	h.messages <- msg
}

func newTestWebhook(t *testing.T, cfg WebhookConfig) (*Webhook, *captureHandler) {
	t.Helper()
	handler := &captureHandler{messages: make(chan InboundMessage, 16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhook(cfg, handler, logger), handler
}

func TestWebhook_Verification(t *testing.T) {
	wh, _ := newTestWebhook(t, WebhookConfig{VerifyToken: "secret"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=12345", nil)
	wh.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); body != "12345" {
		t.Errorf("body = %q, want challenge echoed", body)
	}
}

func TestWebhook_VerificationBadToken(t *testing.T) {
	wh, _ := newTestWebhook(t, WebhookConfig{VerifyToken: "secret"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	wh.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

const sampleEvent = `{
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"wa_id": "972501234567", "profile": {"name": "Dana"}}],
        "messages": [{
          "id": "wamid.abc",
          "from": "972501234567",
          "type": "text",
          "text": {"body": "hello there"}
        }]
      }
    }]
  }]
}`

func TestWebhook_Event(t *testing.T) {
	wh, handler := newTestWebhook(t, WebhookConfig{VerifyToken: "secret"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(sampleEvent))
	wh.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	select {
	case msg := <-handler.messages:
		if msg.Identifier != "+972501234567" {
			t.Errorf("identifier = %q", msg.Identifier)
		}
		if msg.DisplayNameHint != "Dana" {
			t.Errorf("display name = %q", msg.DisplayNameHint)
		}
		if msg.Text != "hello there" {
			t.Errorf("text = %q", msg.Text)
		}
		if msg.MessageID != "wamid.abc" {
			t.Errorf("message id = %q", msg.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never reached the handler")
	}
}

func TestWebhook_NonTextIgnored(t *testing.T) {
	wh, handler := newTestWebhook(t, WebhookConfig{VerifyToken: "secret"})

	event := `{"entry":[{"changes":[{"value":{"messages":[
		{"id":"wamid.x","from":"972501234567","type":"image"}
	]}}]}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(event))
	wh.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	select {
	case msg := <-handler.messages:
		t.Fatalf("unexpected message dispatched: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhook_MalformedPayloadStill200(t *testing.T) {
	wh, _ := newTestWebhook(t, WebhookConfig{VerifyToken: "secret"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	wh.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even for garbage", rec.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if !rl.Allow("+972501234567") {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}
	if rl.Allow("+972501234567") {
		t.Error("fourth attempt in the window should be blocked")
	}

	// A different sender has its own budget.
	if !rl.Allow("+972509999999") {
		t.Error("other sender should not be affected")
	}

	// The window rolls over and the budget resets.
	rl.now = func() time.Time { return base.Add(61 * time.Second) }
	if !rl.Allow("+972501234567") {
		t.Error("new window should allow again")
	}
}
