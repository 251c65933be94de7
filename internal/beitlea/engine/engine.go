// Package engine orchestrates one conversation turn: registration gate, the
// per-state branch (chatting, confirming, completed), model calls, and the
// hand-off of confirmed requests to the sink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/automatifie1-cpu/beit-lea/common/redact"
	"github.com/automatifie1-cpu/beit-lea/common/trace"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/confirm"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/conversation"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/nlp"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/registry"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/replies"
)

// Inbound is one user message, channel-agnostic. Adapters translate their
// provider payloads into this before calling Process.
type Inbound struct {
	// Identifier is the normalized sender identifier.
	Identifier string

	// DisplayNameHint is the channel's idea of the sender's name, used only
	// when the registry has no name for them.
	DisplayNameHint string

	// LanguageHint is the channel's idea of the sender's language, used only
	// when the registry has no language for them.
	LanguageHint string

	// Text is the message body.
	Text string
}

// ContactCard identifies the human contact shared with unregistered users.
type ContactCard struct {
	Name  string
	Phone string
}

// Sender delivers outbound messages on the channel the conversation lives on.
type Sender interface {
	SendText(ctx context.Context, identifier, text string) error
	SendContactCard(ctx context.Context, identifier string, contact ContactCard) error
}

// Submitter records a confirmed request for delivery to the record sink.
type Submitter interface {
	Dispatch(ctx context.Context, identifier, displayName, request string) (string, error)
}

// Config carries the engine's fixed deployment facts.
type Config struct {
	// PolicyURL is embedded in the not-registered notice.
	PolicyURL string

	// Contact is the human shared with unregistered users. A zero value
	// disables the contact card.
	Contact ContactCard

	// DefaultLanguage is used when the registry has no language for the
	// user. Defaults to "he".
	DefaultLanguage string
}

// Engine runs the intake conversation. One Engine serves one channel; several
// engines may share the same stores and completer.
type Engine struct {
	conversations *conversation.Store
	registry      registry.Lookup
	completer     nlp.Completer
	catalog       *replies.Catalog
	submitter     Submitter
	sender        Sender
	cfg           Config
	logger        *slog.Logger

	// turnLocks serializes turns per identifier. Channel adapters run each
	// inbound message in its own goroutine; without this, two rapid replies
	// from the same user could both read the confirming record and submit
	// the pending request twice.
	turnLocks sync.Map
}

// New wires an Engine.
func New(
	conversations *conversation.Store,
	reg registry.Lookup,
	completer nlp.Completer,
	catalog *replies.Catalog,
	submitter Submitter,
	sender Sender,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "he"
	}
	return &Engine{
		conversations: conversations,
		registry:      reg,
		completer:     completer,
		catalog:       catalog,
		submitter:     submitter,
		sender:        sender,
		cfg:           cfg,
		logger:        logger,
	}
}

// Process handles one inbound message end to end. The returned error is for
// the caller's logs; every failure path has already sent the user an
// appropriate message where one exists.
func (e *Engine) Process(ctx context.Context, in Inbound) error {
	ctx, traceID := trace.Ensure(ctx)
	logger := e.logger.With(
		"identifier", redact.Phone(in.Identifier),
		"trace_id", traceID)

	// One turn at a time per user; turns for different users proceed in
	// parallel.
	unlock := e.lockIdentifier(in.Identifier)
	defer unlock()

	user, err := e.registry.Lookup(ctx, in.Identifier)
	if err != nil {
		logger.Info("unregistered sender", "error", err)
		return e.handleUnregistered(ctx, in.Identifier, logger)
	}

	displayName := user.Name
	if displayName == "" {
		displayName = in.DisplayNameHint
	}
	locale := user.Language
	if locale == "" {
		locale = in.LanguageHint
	}
	if locale == "" {
		locale = e.cfg.DefaultLanguage
	}

	rec, err := e.conversations.Get(ctx, in.Identifier)
	if err != nil {
		logger.Error("conversation load failed", "error", err)
		e.sendText(ctx, logger, in.Identifier, e.catalog.Text(locale, replies.KeyTechDifficulty))
		return fmt.Errorf("engine: load conversation: %w", err)
	}

	// A completed conversation recycles on the next message: the previous
	// intake is done, this message opens a new one.
	if rec.State == conversation.StateCompleted {
		if err := e.conversations.Reset(ctx, in.Identifier); err != nil {
			logger.Error("conversation reset failed", "error", err)
			return fmt.Errorf("engine: reset conversation: %w", err)
		}
		rec.State = conversation.StateChatting
		rec.PendingRequest = ""
	}

	// Confirming without a pending request breaks the state invariant;
	// repair to chatting rather than asking about nothing.
	if rec.State == conversation.StateConfirming && rec.PendingRequest == "" {
		logger.Warn("confirming state without pending request, repairing to chatting")
		if err := e.conversations.SetState(ctx, in.Identifier, conversation.StateChatting); err != nil {
			return fmt.Errorf("engine: repair conversation state: %w", err)
		}
		rec.State = conversation.StateChatting
	}

	if err := e.conversations.AppendTurn(ctx, in.Identifier, conversation.RoleUser, in.Text); err != nil {
		// History is advisory; the turn proceeds without it.
		logger.Warn("failed to record user turn", "error", err)
	}

	switch rec.State {
	case conversation.StateConfirming:
		return e.confirmingTurn(ctx, logger, in, rec.PendingRequest, displayName, locale)
	default:
		return e.chattingTurn(ctx, logger, in, displayName, locale)
	}
}

// chattingTurn runs one stateless model call and, when the model detected a
// request, moves the conversation into confirmation.
func (e *Engine) chattingTurn(ctx context.Context, logger *slog.Logger, in Inbound, displayName, locale string) error {
	payload := nlp.Compose(displayName, in.Text, locale)
	raw, err := e.completer.Complete(ctx, payload)
	if err != nil {
		// No state was touched; the user can simply try again.
		logger.Error("model call failed", "error", err)
		e.sendText(ctx, logger, in.Identifier, e.catalog.Text(locale, replies.KeyTechDifficulty))
		return fmt.Errorf("engine: model call: %w", err)
	}

	result := nlp.Parse(raw)
	if result.PendingRequest == "" {
		logger.Info("chat turn, no request detected")
		e.recordAssistantTurn(ctx, logger, in.Identifier, result.VisibleReply)
		e.sendText(ctx, logger, in.Identifier, result.VisibleReply)
		return nil
	}

	if err := e.conversations.SetPending(ctx, in.Identifier, result.PendingRequest); err != nil {
		logger.Error("failed to store pending request", "error", err)
		e.sendText(ctx, logger, in.Identifier, e.catalog.Text(locale, replies.KeyTechDifficulty))
		return fmt.Errorf("engine: store pending request: %w", err)
	}
	logger.Info("request detected, awaiting confirmation")

	question := e.catalog.Textf(locale, replies.KeyConfirmQuestion, result.PendingRequest)
	outbound := question
	if result.VisibleReply != "" {
		outbound = result.VisibleReply + "\n\n" + question
	}
	e.recordAssistantTurn(ctx, logger, in.Identifier, outbound)
	e.sendText(ctx, logger, in.Identifier, outbound)
	return nil
}

// confirmingTurn resolves the user's yes/no and either submits, cancels, or
// asks again.
func (e *Engine) confirmingTurn(ctx context.Context, logger *slog.Logger, in Inbound, pending, displayName, locale string) error {
	decision := confirm.Resolve(in.Text, locale, pending != "")
	logger.Info("confirmation reply resolved", "decision", decision.String())

	switch decision {
	case confirm.DecisionConfirmed:
		submissionID, err := e.submitter.Dispatch(ctx, in.Identifier, displayName, pending)
		if err != nil {
			// The conversation stays in confirmation so a later "yes"
			// can retry the hand-off.
			logger.Error("submission hand-off failed", "error", err)
			e.sendText(ctx, logger, in.Identifier, e.catalog.Text(locale, replies.KeyTechDifficulty))
			return fmt.Errorf("engine: dispatch submission: %w", err)
		}
		if err := e.conversations.SetState(ctx, in.Identifier, conversation.StateCompleted); err != nil {
			logger.Error("failed to complete conversation", "submission_id", submissionID, "error", err)
			return fmt.Errorf("engine: complete conversation: %w", err)
		}
		logger.Info("request confirmed and submitted", "submission_id", submissionID)

		text := e.catalog.Text(locale, replies.KeyThankYou)
		e.recordAssistantTurn(ctx, logger, in.Identifier, text)
		e.sendText(ctx, logger, in.Identifier, text)
		return nil

	case confirm.DecisionRejected:
		if err := e.conversations.SetState(ctx, in.Identifier, conversation.StateChatting); err != nil {
			logger.Error("failed to cancel pending request", "error", err)
			return fmt.Errorf("engine: cancel pending request: %w", err)
		}
		logger.Info("request rejected by user")

		text := e.catalog.Text(locale, replies.KeyCancelled)
		e.recordAssistantTurn(ctx, logger, in.Identifier, text)
		e.sendText(ctx, logger, in.Identifier, text)
		return nil

	default:
		// Neither yes nor no: repeat the question, state unchanged.
		text := e.catalog.Textf(locale, replies.KeyReask, pending)
		e.recordAssistantTurn(ctx, logger, in.Identifier, text)
		e.sendText(ctx, logger, in.Identifier, text)
		return nil
	}
}

// handleUnregistered sends the polite rejection: admission policy notice plus
// the human contact. The model is never consulted and no state is stored.
func (e *Engine) handleUnregistered(ctx context.Context, identifier string, logger *slog.Logger) error {
	locale := e.cfg.DefaultLanguage
	e.sendText(ctx, logger, identifier, e.catalog.Textf(locale, replies.KeyNotRegistered, e.cfg.PolicyURL))

	if e.cfg.Contact == (ContactCard{}) {
		return nil
	}
	e.sendText(ctx, logger, identifier, e.catalog.Text(locale, replies.KeyContactIntro))
	if err := e.sender.SendContactCard(ctx, identifier, e.cfg.Contact); err != nil {
		logger.Warn("failed to send contact card", "error", err)
	}
	return nil
}

// lockIdentifier blocks until the identifier's turn lock is free and returns
// the unlock function. Locks are never removed from the map; the identifier
// space is bounded by the registry.
func (e *Engine) lockIdentifier(identifier string) func() {
	v, _ := e.turnLocks.LoadOrStore(identifier, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) sendText(ctx context.Context, logger *slog.Logger, identifier, text string) {
	if text == "" {
		return
	}
	if err := e.sender.SendText(ctx, identifier, text); err != nil {
		logger.Error("failed to send message", "error", err)
	}
}

func (e *Engine) recordAssistantTurn(ctx context.Context, logger *slog.Logger, identifier, text string) {
	if text == "" {
		return
	}
	if err := e.conversations.AppendTurn(ctx, identifier, conversation.RoleAssistant, text); err != nil {
		logger.Warn("failed to record assistant turn", "error", err)
	}
}
