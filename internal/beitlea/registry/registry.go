// Package registry answers one question: is this identifier a registered
// member of the organization, and if so under what name and language.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/automatifie1-cpu/beit-lea/common/redact"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/sheets"
)

// ErrNotFound is returned when the identifier is not registered.
var ErrNotFound = errors.New("registry: user not found")

// User is a registered member.
type User struct {
	// Name is the member's display name as recorded by the organization.
	Name string

	// Language is the member's preferred reply language tag ("he", "en",
	// "fr"). Empty means the deployment default.
	Language string
}

// Lookup resolves an identifier to a registered user.
type Lookup interface {
	// Lookup returns ErrNotFound for unregistered identifiers.
	Lookup(ctx context.Context, identifier string) (User, error)
}

// SheetsLookup resolves users against the registry sheet through the Apps
// Script bridge.
type SheetsLookup struct {
	client *sheets.Client
	logger *slog.Logger
}

// NewSheets returns a sheet-backed Lookup.
func NewSheets(client *sheets.Client, logger *slog.Logger) *SheetsLookup {
	return &SheetsLookup{client: client, logger: logger}
}

// Lookup queries the bridge. A transport failure is logged and reported as
// not-found: the safe behavior for an unreachable registry is the polite
// not-registered notice, not an error the user cannot act on.
func (l *SheetsLookup) Lookup(ctx context.Context, identifier string) (User, error) {
	user, found, err := l.client.LookupUser(ctx, identifier)
	if err != nil {
		// A broken bridge must stand out from ordinary not-found noise.
		l.logger.Error("registry lookup failed, treating as unregistered",
			"identifier", redact.Phone(identifier),
			"error", err)
		return User{}, ErrNotFound
	}
	if !found {
		return User{}, ErrNotFound
	}
	return User{Name: user.Name, Language: user.Language}, nil
}

// FileLookup resolves users from a local JSON file, keyed by normalized
// identifier. Used for development and for deployments without the sheet.
type FileLookup struct {
	users map[string]User
}

type fileEntry struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// NewFile loads the registry file once; edits require a restart.
func NewFile(path string) (*FileLookup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var entries map[string]fileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("registry: parse %s: %w", path, err)
	}

	users := make(map[string]User, len(entries))
	for identifier, entry := range entries {
		users[identifier] = User{Name: entry.Name, Language: entry.Language}
	}
	return &FileLookup{users: users}, nil
}

func (l *FileLookup) Lookup(_ context.Context, identifier string) (User, error) {
	user, ok := l.users[identifier]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}
