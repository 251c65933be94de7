// Package matrix is the Matrix channel adapter: it feeds direct messages into
// the conversation engine and delivers the engine's replies back to the room
// the sender wrote from. Registry entries for Matrix users are keyed by their
// full user ID instead of a phone number.
package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/engine"
)

// Processor consumes inbound messages; implemented by the engine.
type Processor interface {
	Process(ctx context.Context, in engine.Inbound) error
}

// Config configures the Matrix connection.
type Config struct {
	// HomeserverURL is the base URL of the homeserver.
	HomeserverURL string

	// UserID is the bot's full Matrix user ID.
	UserID string

	// AccessToken authenticates the bot.
	AccessToken string
}

// Adapter bridges Matrix rooms and the engine.
type Adapter struct {
	client    *mautrix.Client
	logger    *slog.Logger
	processor Processor
	started   time.Time

	mu    sync.Mutex
	rooms map[string]id.RoomID
}

// New connects the client; call AttachProcessor before Run.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	return &Adapter{
		client: client,
		logger: logger,
		rooms:  make(map[string]id.RoomID),
	}, nil
}

// AttachProcessor wires the engine in. Kept separate from New because the
// engine needs the adapter as its Sender first.
func (a *Adapter) AttachProcessor(p Processor) {
	a.processor = p
}

// Run syncs until the context is cancelled, reconnecting with backoff on
// transient sync failures.
func (a *Adapter) Run(ctx context.Context) error {
	if a.processor == nil {
		return fmt.Errorf("matrix: no processor attached")
	}
	a.started = time.Now()

	syncer := a.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, a.onMessage)
	syncer.OnEventType(event.StateMember, a.onMembership)

	backoff := time.Second
	for {
		err := a.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn("matrix sync interrupted, reconnecting",
			"error", err,
			"backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 5*time.Minute {
			backoff = 5 * time.Minute
		}
	}
}

// onMembership auto-joins rooms the bot is invited to, so users can open a DM
// without operator help.
func (a *Adapter) onMembership(ctx context.Context, evt *event.Event) {
	content, ok := evt.Content.Parsed.(*event.MemberEventContent)
	if !ok || content.Membership != event.MembershipInvite {
		return
	}
	if id.UserID(evt.GetStateKey()) != a.client.UserID {
		return
	}
	if _, err := a.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		a.logger.Warn("failed to join room", "room_id", evt.RoomID, "error", err)
		return
	}
	a.logger.Info("joined room on invite", "room_id", evt.RoomID)
}

func (a *Adapter) onMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == a.client.UserID {
		return
	}
	// Sync replays history on a fresh token; only live messages get a turn.
	if time.UnixMilli(evt.Timestamp).Before(a.started) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	identifier := evt.Sender.String()
	a.mu.Lock()
	a.rooms[identifier] = evt.RoomID
	a.mu.Unlock()

	in := engine.Inbound{
		Identifier:      identifier,
		DisplayNameHint: evt.Sender.Localpart(),
		Text:            content.Body,
	}
	if err := a.processor.Process(ctx, in); err != nil {
		a.logger.Error("turn processing failed", "error", err)
	}
}

// roomFor maps an identifier to the room it last wrote from.
func (a *Adapter) roomFor(identifier string) (id.RoomID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	roomID, ok := a.rooms[identifier]
	return roomID, ok
}

// SendText implements engine.Sender.
func (a *Adapter) SendText(ctx context.Context, identifier, text string) error {
	roomID, ok := a.roomFor(identifier)
	if !ok {
		return fmt.Errorf("matrix: no known room for %s", identifier)
	}
	if _, err := a.client.SendText(ctx, roomID, text); err != nil {
		return fmt.Errorf("matrix: send message: %w", err)
	}
	return nil
}

// SendContactCard implements engine.Sender. Matrix has no contact card
// message type, so the contact is shared as plain text.
func (a *Adapter) SendContactCard(ctx context.Context, identifier string, contact engine.ContactCard) error {
	return a.SendText(ctx, identifier, fmt.Sprintf("%s: %s", contact.Name, contact.Phone))
}
