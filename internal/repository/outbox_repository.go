package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
)

// OutboxRepository stores notification intents committed alongside the domain
// mutation that produced them. A background dispatcher drains the table.
type OutboxRepository interface {
	Enqueue(ctx context.Context, item *models.OutboxItem) error
	EnqueueTx(tx *sqlx.Tx, item *models.OutboxItem) error
	FetchPending(ctx context.Context, limit int) ([]models.OutboxItem, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, dispatchErr string) error
	CountByStatus(ctx context.Context, status models.OutboxStatus) (int, error)
}

type outboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

const outboxInsert = `
	INSERT INTO notification_outbox (
		id, type, recipient_id, recipient_email, subject, message, payload,
		status, attempts, last_error, created_at, dispatched_at
	) VALUES (
		:id, :type, :recipient_id, :recipient_email, :subject, :message, :payload,
		:status, :attempts, :last_error, :created_at, :dispatched_at
	)`

func (r *outboxRepository) Enqueue(ctx context.Context, item *models.OutboxItem) error {
	if _, err := r.db.NamedExecContext(ctx, outboxInsert, item); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

func (r *outboxRepository) EnqueueTx(tx *sqlx.Tx, item *models.OutboxItem) error {
	if _, err := tx.NamedExec(outboxInsert, item); err != nil {
		return fmt.Errorf("failed to enqueue notification in transaction: %w", err)
	}
	return nil
}

func (r *outboxRepository) FetchPending(ctx context.Context, limit int) ([]models.OutboxItem, error) {
	var items []models.OutboxItem
	query := `
		SELECT * FROM notification_outbox
		WHERE status IN ('pending', 'failed')
		ORDER BY created_at ASC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch pending notifications: %w", err)
	}
	return items, nil
}

func (r *outboxRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notification_outbox
		SET status = 'dispatched', dispatched_at = $2, attempts = attempts + 1
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, time.Now()); err != nil {
		return fmt.Errorf("failed to mark notification dispatched: %w", err)
	}
	return nil
}

// MarkFailed records a delivery failure. After the attempt cap the item goes
// dead and the dispatcher stops retrying it.
func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, dispatchErr string) error {
	query := `
		UPDATE notification_outbox
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'dead' ELSE 'failed' END
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, dispatchErr, models.OutboxMaxAttempts); err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}
	return nil
}

func (r *outboxRepository) CountByStatus(ctx context.Context, status models.OutboxStatus) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notification_outbox WHERE status = $1`

	if err := r.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return count, nil
}
