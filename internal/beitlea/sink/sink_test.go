package sink

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/automatifie1-cpu/beit-lea/common/retry"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/store"
)

type fakeDeliverer struct {
	mu       sync.Mutex
	failures int
	calls    []Submission
}

func (f *fakeDeliverer) Deliver(_ context.Context, sub Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub)
	if f.failures > 0 {
		f.failures--
		return errors.New("sink unavailable")
	}
	return nil
}

func (f *fakeDeliverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDispatcher(t *testing.T, deliverer Deliverer) (*Dispatcher, *sql.DB) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "sink_test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(st.DB(), deliverer, logger)
	d.retryCfg = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	return d, st.DB()
}

func submissionRow(t *testing.T, db *sql.DB, id string) (status string, lastError sql.NullString, deliveredAt sql.NullTime) {
	t.Helper()
	err := db.QueryRow(`SELECT status, last_error, delivered_at FROM submissions WHERE id = ?`, id).
		Scan(&status, &lastError, &deliveredAt)
	if err != nil {
		t.Fatalf("read submission %s: %v", id, err)
	}
	return status, lastError, deliveredAt
}

func TestDispatch_Delivers(t *testing.T) {
	deliverer := &fakeDeliverer{}
	d, db := newTestDispatcher(t, deliverer)

	id, err := d.Dispatch(context.Background(), "+972501234567", "Dana Levi", "fix the hallway light")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	status, _, deliveredAt := submissionRow(t, db, id)
	if status != statusDelivered {
		t.Errorf("status = %q, want delivered", status)
	}
	if !deliveredAt.Valid {
		t.Error("delivered_at not set")
	}
	if got := deliverer.callCount(); got != 1 {
		t.Errorf("deliver calls = %d, want 1", got)
	}
}

func TestDispatch_RetriesThenSucceeds(t *testing.T) {
	deliverer := &fakeDeliverer{failures: 2}
	d, db := newTestDispatcher(t, deliverer)

	id, err := d.Dispatch(context.Background(), "+972501234567", "Dana Levi", "fix the door")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	status, _, _ := submissionRow(t, db, id)
	if status != statusDelivered {
		t.Errorf("status = %q, want delivered after retries", status)
	}
	if got := deliverer.callCount(); got != 3 {
		t.Errorf("deliver calls = %d, want 3", got)
	}
}

func TestDispatch_ExhaustedMarksFailed(t *testing.T) {
	deliverer := &fakeDeliverer{failures: 99}
	d, db := newTestDispatcher(t, deliverer)

	id, err := d.Dispatch(context.Background(), "+972501234567", "Dana Levi", "fix the roof")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	status, lastError, _ := submissionRow(t, db, id)
	if status != statusFailed {
		t.Errorf("status = %q, want failed", status)
	}
	if !lastError.Valid || lastError.String == "" {
		t.Error("last_error not recorded")
	}
}

func TestRedeliverUnfinished(t *testing.T) {
	deliverer := &fakeDeliverer{failures: 99}
	d, db := newTestDispatcher(t, deliverer)

	// First attempt exhausts its retries and the row stays behind as failed.
	id, err := d.Dispatch(context.Background(), "+972501234567", "Dana Levi", "fix the gate")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	d.Wait()

	// The sink recovers; a startup sweep drains the leftover row.
	deliverer.mu.Lock()
	deliverer.failures = 0
	deliverer.mu.Unlock()

	count, err := d.RedeliverUnfinished(context.Background())
	if err != nil {
		t.Fatalf("RedeliverUnfinished: %v", err)
	}
	if count != 1 {
		t.Fatalf("redelivered = %d, want 1", count)
	}
	d.Wait()

	status, _, _ := submissionRow(t, db, id)
	if status != statusDelivered {
		t.Errorf("status = %q, want delivered after redelivery", status)
	}
}

func TestRedeliverUnfinished_NothingPending(t *testing.T) {
	d, _ := newTestDispatcher(t, &fakeDeliverer{})

	count, err := d.RedeliverUnfinished(context.Background())
	if err != nil {
		t.Fatalf("RedeliverUnfinished: %v", err)
	}
	if count != 0 {
		t.Errorf("redelivered = %d, want 0", count)
	}
}
