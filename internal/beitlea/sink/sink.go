// Package sink hands confirmed requests off to the external record sink.
// Every submission is first written to a local table, then delivered in the
// background with retries, so a confirmed request survives a crash or a sink
// outage. Delivery is at-least-once; the sink side is expected to tolerate an
// occasional duplicate row.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/automatifie1-cpu/beit-lea/common/redact"
	"github.com/automatifie1-cpu/beit-lea/common/retry"
	"github.com/automatifie1-cpu/beit-lea/common/trace"
)

// Submission statuses as stored in the submissions table.
const (
	statusPending   = "pending"
	statusDelivered = "delivered"
	statusFailed    = "failed"
)

// Submission is one confirmed request on its way to the sink.
type Submission struct {
	ID          string
	Identifier  string
	DisplayName string
	Request     string
	CreatedAt   time.Time
}

// Deliverer performs the actual delivery of one submission.
type Deliverer interface {
	Deliver(ctx context.Context, sub Submission) error
}

// Dispatcher records submissions durably and delivers them asynchronously.
type Dispatcher struct {
	db        *sql.DB
	deliverer Deliverer
	logger    *slog.Logger
	retryCfg  retry.Config
	wg        sync.WaitGroup

	now func() time.Time
}

// New returns a Dispatcher delivering through the given Deliverer.
func New(db *sql.DB, deliverer Deliverer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		db:        db,
		deliverer: deliverer,
		logger:    logger,
		retryCfg: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		now: time.Now,
	}
}

// Dispatch records the submission and schedules its delivery, returning the
// submission ID. The caller's turn is done once this returns; delivery
// happens in the background so a slow sink never blocks the conversation.
func (d *Dispatcher) Dispatch(ctx context.Context, identifier, displayName, request string) (string, error) {
	sub := Submission{
		ID:          uuid.NewString(),
		Identifier:  identifier,
		DisplayName: displayName,
		Request:     request,
		CreatedAt:   d.now().UTC(),
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO submissions (id, identifier, display_name, request_text, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Identifier, sub.DisplayName, sub.Request, statusPending, sub.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("sink: record submission: %w", err)
	}

	// The request context ends with the user's turn; delivery gets a fresh
	// context carrying only the trace ID.
	deliveryCtx := context.Background()
	if traceID := trace.FromContext(ctx); traceID != "" {
		deliveryCtx = trace.WithTraceID(deliveryCtx, traceID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(deliveryCtx, sub)
	}()

	return sub.ID, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub Submission) {
	err := retry.Do(ctx, d.retryCfg, func() error {
		return d.deliverer.Deliver(ctx, sub)
	})
	if err != nil {
		d.logger.Error("submission delivery failed",
			"submission_id", sub.ID,
			"identifier", redact.Phone(sub.Identifier),
			"trace_id", trace.FromContext(ctx),
			"error", err)
		d.markFailed(sub.ID, err)
		return
	}

	d.logger.Info("submission delivered",
		"submission_id", sub.ID,
		"identifier", redact.Phone(sub.Identifier),
		"trace_id", trace.FromContext(ctx))
	d.markDelivered(sub.ID)
}

func (d *Dispatcher) markDelivered(id string) {
	_, err := d.db.Exec(`
		UPDATE submissions SET status = ?, delivered_at = ?, last_error = NULL
		WHERE id = ?`,
		statusDelivered, d.now().UTC(), id)
	if err != nil {
		d.logger.Error("failed to mark submission delivered", "submission_id", id, "error", err)
	}
}

func (d *Dispatcher) markFailed(id string, cause error) {
	_, err := d.db.Exec(`
		UPDATE submissions SET status = ?, last_error = ?
		WHERE id = ?`,
		statusFailed, cause.Error(), id)
	if err != nil {
		d.logger.Error("failed to mark submission failed", "submission_id", id, "error", err)
	}
}

// RedeliverUnfinished re-schedules every submission that never reached the
// sink, typically called once at startup to drain rows left behind by a crash
// or an outage.
func (d *Dispatcher) RedeliverUnfinished(ctx context.Context) (int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, identifier, display_name, request_text, created_at
		FROM submissions
		WHERE status IN (?, ?)
		ORDER BY created_at`,
		statusPending, statusFailed)
	if err != nil {
		return 0, fmt.Errorf("sink: list unfinished submissions: %w", err)
	}
	defer rows.Close()

	var pending []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.ID, &sub.Identifier, &sub.DisplayName, &sub.Request, &sub.CreatedAt); err != nil {
			return 0, fmt.Errorf("sink: scan submission: %w", err)
		}
		pending = append(pending, sub)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("sink: list unfinished submissions: %w", err)
	}

	for _, sub := range pending {
		sub := sub
		deliveryCtx, _ := trace.Ensure(context.Background())
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(deliveryCtx, sub)
		}()
	}
	return len(pending), nil
}

// Wait blocks until all in-flight deliveries settle, used during shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
