package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by mutating operations when no record exists for
// the identifier. Get never returns it — it synthesizes a fresh record.
var ErrNotFound = errors.New("conversation not found")

// Store persists and retrieves conversation Records.
type Store struct {
	db      *sql.DB
	timeout time.Duration

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewStore creates a conversation Store backed by the given database.
// timeout controls inactivity expiry; pass 0 to use DefaultTimeout.
func NewStore(db *sql.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout, now: time.Now}
}

// Get returns the conversation record for the identifier, refreshing its
// activity timestamp. When no record exists, or the existing record's last
// activity is older than the configured timeout, a fresh StateChatting record
// replaces it — the stale record's pending request and history are discarded.
func (s *Store) Get(ctx context.Context, identifier string) (*Record, error) {
	now := s.now()

	rec := &Record{Identifier: identifier}
	var pending sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT state, pending_request, created_at, last_activity_at
		FROM conversations
		WHERE identifier = ?
	`, identifier).Scan(&rec.State, &pending, &rec.CreatedAt, &rec.LastActivityAt)

	switch {
	case err == sql.ErrNoRows:
		return s.replace(ctx, identifier, now)
	case err != nil:
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if now.Sub(rec.LastActivityAt) > s.timeout {
		// Expired: the record is invisible; synthesize a replacement.
		return s.replace(ctx, identifier, now)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET last_activity_at = ? WHERE identifier = ?
	`, now, identifier); err != nil {
		return nil, fmt.Errorf("failed to refresh conversation activity: %w", err)
	}

	rec.PendingRequest = pending.String
	rec.LastActivityAt = now
	return rec, nil
}

// replace discards any prior record and history for the identifier and
// inserts a fresh StateChatting record.
func (s *Store) replace(ctx context.Context, identifier string, now time.Time) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin conversation replacement: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE identifier = ?`, identifier); err != nil {
		return nil, fmt.Errorf("failed to discard stale history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (identifier, state, pending_request, created_at, last_activity_at)
		VALUES (?, ?, NULL, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			state = excluded.state,
			pending_request = NULL,
			created_at = excluded.created_at,
			last_activity_at = excluded.last_activity_at
	`, identifier, string(StateChatting), now, now); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversation replacement: %w", err)
	}

	return &Record{
		Identifier:     identifier,
		State:          StateChatting,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// SetState transitions the record to the given state. Transitions to any
// state other than StateConfirming clear the pending request in the same
// statement, preserving the pending ⟺ confirming invariant.
func (s *Store) SetState(ctx context.Context, identifier string, state State) error {
	var res sql.Result
	var err error
	if state == StateConfirming {
		res, err = s.db.ExecContext(ctx, `
			UPDATE conversations SET state = ?, last_activity_at = ? WHERE identifier = ?
		`, string(state), s.now(), identifier)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE conversations SET state = ?, pending_request = NULL, last_activity_at = ? WHERE identifier = ?
		`, string(state), s.now(), identifier)
	}
	if err != nil {
		return fmt.Errorf("failed to set conversation state: %w", err)
	}
	return affectedOne(res)
}

// SetPending stores the summarized request text and moves the record to
// StateConfirming in a single statement.
func (s *Store) SetPending(ctx context.Context, identifier, requestText string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET state = ?, pending_request = ?, last_activity_at = ?
		WHERE identifier = ?
	`, string(StateConfirming), requestText, s.now(), identifier)
	if err != nil {
		return fmt.Errorf("failed to set pending request: %w", err)
	}
	return affectedOne(res)
}

// PendingRequest returns the request text awaiting confirmation, or "" when
// there is none (including when no record exists).
func (s *Store) PendingRequest(ctx context.Context, identifier string) (string, error) {
	var pending sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT pending_request FROM conversations WHERE identifier = ?`, identifier,
	).Scan(&pending)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load pending request: %w", err)
	}
	return pending.String, nil
}

// AppendTurn records one message in the advisory history and refreshes the
// activity timestamp.
func (s *Store) AppendTurn(ctx context.Context, identifier, role, content string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin turn append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (identifier, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, identifier, role, content, now); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_activity_at = ? WHERE identifier = ?
	`, now, identifier); err != nil {
		return fmt.Errorf("failed to refresh conversation activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn append: %w", err)
	}
	return nil
}

// History returns the recorded turns for the identifier, oldest first.
func (s *Store) History(ctx context.Context, identifier string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at
		FROM conversation_turns
		WHERE identifier = ?
		ORDER BY id ASC
	`, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

// Clear hard-deletes the record and its history.
func (s *Store) Clear(ctx context.Context, identifier string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE identifier = ?`, identifier); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

// Reset soft-resets the record for a new intake cycle: history and pending
// request are discarded, the state returns to StateChatting, and the record
// identity (created_at) is kept.
func (s *Store) Reset(ctx context.Context, identifier string) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin conversation reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE identifier = ?`, identifier); err != nil {
		return fmt.Errorf("failed to discard history: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE conversations
		SET state = ?, pending_request = NULL, last_activity_at = ?
		WHERE identifier = ?
	`, string(StateChatting), now, identifier)
	if err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	if err := affectedOne(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation reset: %w", err)
	}
	return nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
