// Package app wires the bot together: storage, registry, model provider,
// channel adapters, and the HTTP server carrying the WhatsApp webhook.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/automatifie1-cpu/beit-lea/common/redact"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/conversation"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/engine"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/matrix"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/nlp"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/registry"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/replies"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/sheets"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/sink"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/store"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/whatsapp"
)

// Config is the application configuration, assembled from the environment by
// the main package.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8080".
	ListenAddr string

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// ConversationTimeout is the inactivity window after which a
	// conversation expires. Zero means the default of 30 minutes.
	ConversationTimeout time.Duration

	// WhatsApp channel settings.
	WhatsAppVerifyToken   string
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppGraphURL      string

	// Model provider settings.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Apps Script bridge settings. Required unless RegistryFile is set, in
	// which case confirmed requests are only recorded locally.
	SheetsURL   string
	SheetsToken string

	// RegistryFile switches the registry to a local JSON file, used for
	// development and sheet-less deployments.
	RegistryFile string

	// Matrix channel settings, all empty to disable the channel.
	MatrixHomeserverURL string
	MatrixUserID        string
	MatrixAccessToken   string

	// Conversation policy facts.
	PolicyURL       string
	ContactName     string
	ContactPhone    string
	DefaultLanguage string
}

// App is the assembled bot.
type App struct {
	cfg    Config
	logger *slog.Logger

	store      *store.Store
	dispatcher *sink.Dispatcher
	server     *http.Server
	matrix     *matrix.Adapter
}

// New builds the application. Close is implied by Run returning.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	catalog, err := replies.Load()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	var sheetsClient *sheets.Client
	if cfg.SheetsURL != "" {
		sheetsClient = sheets.New(sheets.Config{URL: cfg.SheetsURL, Token: cfg.SheetsToken})
	}

	var lookup registry.Lookup
	switch {
	case cfg.RegistryFile != "":
		lookup, err = registry.NewFile(cfg.RegistryFile)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		logger.Info("using local registry file", "path", cfg.RegistryFile)
	case sheetsClient != nil:
		lookup = registry.NewSheets(sheetsClient, logger)
	default:
		st.Close()
		return nil, errors.New("app: no registry configured, set a sheets URL or a registry file")
	}

	var deliverer sink.Deliverer
	if sheetsClient != nil {
		deliverer = &sheetsDeliverer{client: sheetsClient}
	} else {
		logger.Warn("no sheets endpoint configured, submissions stay local only")
		deliverer = localOnlyDeliverer{}
	}
	dispatcher := sink.New(st.DB(), deliverer, logger)

	completer := nlp.NewCompleter(nlp.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})

	conversations := conversation.NewStore(st.DB(), cfg.ConversationTimeout)

	engineCfg := engine.Config{
		PolicyURL:       cfg.PolicyURL,
		Contact:         engine.ContactCard{Name: cfg.ContactName, Phone: cfg.ContactPhone},
		DefaultLanguage: cfg.DefaultLanguage,
	}

	waClient := whatsapp.NewClient(whatsapp.ClientConfig{
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		BaseURL:       cfg.WhatsAppGraphURL,
	})
	waEngine := engine.New(conversations, lookup, completer, catalog, dispatcher,
		&whatsappSender{client: waClient}, engineCfg, logger.With("channel", "whatsapp"))

	webhook := whatsapp.NewWebhook(whatsapp.WebhookConfig{
		VerifyToken: cfg.WhatsAppVerifyToken,
	}, &webhookHandler{
		engine: waEngine,
		client: waClient,
		logger: logger,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook)
	mux.HandleFunc("/healthz", healthHandler)

	app := &App{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		dispatcher: dispatcher,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if cfg.MatrixHomeserverURL != "" {
		adapter, err := matrix.New(matrix.Config{
			HomeserverURL: cfg.MatrixHomeserverURL,
			UserID:        cfg.MatrixUserID,
			AccessToken:   cfg.MatrixAccessToken,
		}, logger.With("channel", "matrix"))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("app: %w", err)
		}
		mxEngine := engine.New(conversations, lookup, completer, catalog, dispatcher,
			adapter, engineCfg, logger.With("channel", "matrix"))
		adapter.AttachProcessor(mxEngine)
		app.matrix = adapter
	}

	return app, nil
}

// Run serves until the context is cancelled, then shuts down gracefully:
// stop accepting webhooks, let in-flight sink deliveries settle, close the
// database.
func (a *App) Run(ctx context.Context) error {
	// Drain submissions a previous run left behind.
	if count, err := a.dispatcher.RedeliverUnfinished(ctx); err != nil {
		a.logger.Warn("startup redelivery sweep failed", "error", err)
	} else if count > 0 {
		a.logger.Info("redelivering unfinished submissions", "count", count)
	}

	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("http server listening", "addr", a.cfg.ListenAddr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("app: http server: %w", err)
		}
	}()

	if a.matrix != nil {
		go func() {
			if err := a.matrix.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("app: matrix channel: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.logger.Error("component failed, shutting down", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", "error", err)
	}

	a.dispatcher.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}

	a.logger.Info("shutdown complete")
	return runErr
}

// webhookHandler glues the WhatsApp webhook to the engine: mark the message
// read, run the turn.
type webhookHandler struct {
	engine *engine.Engine
	client *whatsapp.Client
	logger *slog.Logger
}

func (h *webhookHandler) HandleMessage(ctx context.Context, msg whatsapp.InboundMessage) {
	if err := h.client.MarkRead(ctx, msg.MessageID); err != nil {
		h.logger.Debug("mark read failed", "error", err)
	}
	if err := h.engine.Process(ctx, engine.Inbound{
		Identifier:      msg.Identifier,
		DisplayNameHint: msg.DisplayNameHint,
		Text:            msg.Text,
	}); err != nil {
		h.logger.Error("turn failed",
			"identifier", redact.Phone(msg.Identifier),
			"error", err)
	}
}

// whatsappSender adapts the WhatsApp client to the engine's Sender.
type whatsappSender struct {
	client *whatsapp.Client
}

func (s *whatsappSender) SendText(ctx context.Context, identifier, text string) error {
	return s.client.SendText(ctx, identifier, text)
}

func (s *whatsappSender) SendContactCard(ctx context.Context, identifier string, contact engine.ContactCard) error {
	return s.client.SendContactCard(ctx, identifier, whatsapp.Contact{
		Name:  contact.Name,
		Phone: contact.Phone,
	})
}

// sheetsDeliverer delivers submissions through the Apps Script bridge.
type sheetsDeliverer struct {
	client *sheets.Client
}

func (d *sheetsDeliverer) Deliver(ctx context.Context, sub sink.Submission) error {
	return d.client.SubmitInquiry(ctx, sheets.Inquiry{
		ID:          sub.ID,
		Identifier:  sub.Identifier,
		DisplayName: sub.DisplayName,
		Request:     sub.Request,
		CreatedAt:   sub.CreatedAt,
	})
}

// localOnlyDeliverer accepts every submission without forwarding it; the
// durable submissions table is then the system of record.
type localOnlyDeliverer struct{}

func (localOnlyDeliverer) Deliver(context.Context, sink.Submission) error { return nil }
