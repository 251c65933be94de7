package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/automatifie1-cpu/beit-lea/common/redact"
	"github.com/automatifie1-cpu/beit-lea/common/trace"
)

// InboundMessage is one text message received through the webhook, already
// normalized for the orchestrator.
type InboundMessage struct {
	// Identifier is the sender's normalized phone number.
	Identifier string

	// DisplayNameHint is the sender's WhatsApp profile name, possibly empty.
	DisplayNameHint string

	// Text is the message body.
	Text string

	// MessageID is the provider's message identifier, used for read receipts.
	MessageID string
}

// MessageHandler consumes inbound messages. Handling happens after the
// webhook has already been acknowledged, so implementations own their error
// reporting.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
}

// WebhookConfig configures the webhook endpoint.
type WebhookConfig struct {
	// VerifyToken is the shared secret echoed during Meta's subscription
	// handshake.
	VerifyToken string

	// RateLimit is the number of messages allowed per sender per window.
	// Defaults to 10.
	RateLimit int

	// RateWindow is the rate limit window. Defaults to one minute.
	RateWindow time.Duration
}

// Webhook is the HTTP handler for the WhatsApp Cloud API callback URL. It
// answers the GET verification handshake and fans POSTed text messages out to
// the handler. Event payloads are always acknowledged with 200 regardless of
// processing outcome; Meta retries non-2xx deliveries and duplicate turns are
// worse than dropped ones.
type Webhook struct {
	verifyToken string
	handler     MessageHandler
	limiter     *rateLimiter
	logger      *slog.Logger
}

// NewWebhook builds the webhook handler.
func NewWebhook(cfg WebhookConfig, handler MessageHandler, logger *slog.Logger) *Webhook {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = time.Minute
	}
	return &Webhook{
		verifyToken: cfg.VerifyToken,
		handler:     handler,
		limiter:     newRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:      logger,
	}
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		wh.handleVerification(w, r)
	case http.MethodPost:
		wh.handleEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleVerification answers Meta's subscription handshake: echo the
// challenge when the token matches, reject otherwise.
func (wh *Webhook) handleVerification(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := query.Get("hub.mode")
	token := query.Get("hub.verify_token")
	challenge := query.Get("hub.challenge")

	if mode != "subscribe" || token != wh.verifyToken {
		wh.logger.Warn("webhook verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// Webhook payload shapes, reduced to the fields the bot consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID   string `json:"id"`
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (wh *Webhook) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		wh.logger.Warn("webhook payload decode failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := map[string]string{}
			for _, contact := range change.Value.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, message := range change.Value.Messages {
				if message.Type != "text" {
					wh.logger.Debug("skipping non-text message", "type", message.Type)
					continue
				}

				identifier := NormalizePhone(message.From)
				if identifier == "" {
					continue
				}

				if !wh.limiter.Allow(identifier) {
					wh.logger.Warn("rate limit exceeded, dropping message",
						"identifier", redact.Phone(identifier))
					continue
				}

				msg := InboundMessage{
					Identifier:      identifier,
					DisplayNameHint: names[message.From],
					Text:            message.Text.Body,
					MessageID:       message.ID,
				}

				// Acknowledge fast, process in the background. The
				// request context dies with the response, so the handler
				// gets a fresh one carrying only the trace ID.
				ctx, traceID := trace.Ensure(context.Background())
				wh.logger.Info("inbound message accepted",
					"identifier", redact.Phone(identifier),
					"trace_id", traceID)
				go wh.handler.HandleMessage(ctx, msg)
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// rateLimiter is a fixed-window counter keyed by sender.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	seen   map[string]*windowCount

	// now is overridable in tests.
	now func() time.Time
}

type windowCount struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		seen:   make(map[string]*windowCount),
		now:    time.Now,
	}
}

// Allow reports whether the sender is within its message budget for the
// current window and records the attempt.
func (rl *rateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.seen[identifier]
	if !ok || now.Sub(entry.start) >= rl.window {
		rl.seen[identifier] = &windowCount{start: now, count: 1}
		// Opportunistic cleanup keeps the map from growing unbounded.
		for key, other := range rl.seen {
			if now.Sub(other.start) >= rl.window {
				delete(rl.seen, key)
			}
		}
		return true
	}

	entry.count++
	return entry.count <= rl.limit
}
