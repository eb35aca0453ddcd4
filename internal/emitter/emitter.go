// Package emitter creates Cases and delivers their webhook notifications,
// grounded on the original source's services/case_service.py.
package emitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gavelhq/gavel/internal/model"
	"github.com/gavelhq/gavel/internal/storage"
)

const webhookTimeout = 5 * time.Second

// Emitter is invoked after a decision transaction commits, so a failed
// webhook delivery never rolls back the decision itself — at-most-once
// emission per SPEC_FULL.md §5.
type Emitter struct {
	db         *storage.DB
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func New(db *storage.DB, webhookURL string, logger *slog.Logger) *Emitter {
	return &Emitter{db: db, webhookURL: webhookURL, client: &http.Client{Timeout: webhookTimeout}, logger: logger}
}

// CreateCaseAndNotify inserts a Case for an ESCALATE decision and, if a
// webhook URL is configured, attempts one delivery. It runs in its own
// transaction, invoked only after the decision pipeline's own transaction
// has already committed — a failed case insert never rolls back a decision
// that has already been recorded. Delivery outcome never propagates as an
// error — it is recorded on the Notification row for later inspection.
func (e *Emitter) CreateCaseAndNotify(ctx context.Context, projectID, traceID uuid.UUID, reasonCode string) (model.Case, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return model.Case{}, err
	}
	defer tx.Rollback(ctx)

	c, err := e.db.InsertCaseTx(ctx, tx, projectID, traceID, reasonCode)
	if err != nil {
		return model.Case{}, fmt.Errorf("emitter: create case: %w", err)
	}

	var notification *model.Notification
	if e.webhookURL != "" {
		payload := map[string]any{
			"case_id":     c.ID.String(),
			"project_id":  projectID.String(),
			"trace_id":    traceID.String(),
			"reason_code": reasonCode,
		}
		n, err := e.db.InsertNotificationTx(ctx, tx, projectID, c.ID, "webhook", e.webhookURL, payload)
		if err != nil {
			return model.Case{}, fmt.Errorf("emitter: create notification: %w", err)
		}
		notification = &n
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Case{}, fmt.Errorf("emitter: commit case: %w", err)
	}

	if notification != nil {
		e.deliver(context.WithoutCancel(ctx), *notification)
	}

	return c, nil
}

func (e *Emitter) deliver(ctx context.Context, n model.Notification) {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	body, err := json.Marshal(n.Payload)
	if err != nil {
		e.fail(ctx, n.ID, err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.TargetURL, bytes.NewReader(body))
	if err != nil {
		e.fail(ctx, n.ID, err.Error())
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.fail(ctx, n.ID, err.Error())
		return
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	status := model.NotificationStatusSent
	if resp.StatusCode >= 300 {
		status = model.NotificationStatusFailed
	}
	if err := e.db.UpdateNotificationStatus(ctx, n.ID, status, string(snippet)); err != nil {
		e.logger.Error("emitter: record notification result", "error", err, "notification_id", n.ID)
	}
}

func (e *Emitter) fail(ctx context.Context, id uuid.UUID, message string) {
	if err := e.db.UpdateNotificationStatus(ctx, id, model.NotificationStatusFailed, message); err != nil {
		e.logger.Error("emitter: record notification failure", "error", err, "notification_id", id)
	}
}
