package event

import (
	"context"
	"log/slog"

	"github.com/victor-vestio/myvestio-backend-sub000/internal/metrics"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/models"
	"github.com/victor-vestio/myvestio-backend-sub000/internal/repository"
)

const dispatchBatchSize = 100

// Publisher delivers a notification event to the message queue.
type Publisher interface {
	PublishNotification(ctx context.Context, event NotificationEvent) error
}

// Mailer sends a notification email.
type Mailer interface {
	SendNotification(to, subject, message string) error
}

// OutboxDispatcher drains the notification outbox: each pending item is
// published to the notification queue and, when the recipient has an email
// on file, mailed as well. Delivery failures are retried on later passes
// until the attempt cap marks the item dead.
type OutboxDispatcher struct {
	outboxRepo repository.OutboxRepository
	publisher  Publisher
	mailer     Mailer
}

func NewOutboxDispatcher(outboxRepo repository.OutboxRepository, publisher Publisher, mailer Mailer) *OutboxDispatcher {
	return &OutboxDispatcher{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		mailer:     mailer,
	}
}

// DispatchPending processes one batch of undelivered notifications. Returns
// how many were delivered this pass.
func (d *OutboxDispatcher) DispatchPending(ctx context.Context) (int, error) {
	items, err := d.outboxRepo.FetchPending(ctx, dispatchBatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := range items {
		if err := d.dispatch(ctx, &items[i]); err != nil {
			metrics.IncOutboxDispatch(metrics.ResultError)
			slog.Warn("Notification dispatch failed",
				"outbox_id", items[i].ID,
				"type", items[i].Type,
				"attempts", items[i].Attempts+1,
				"error", err,
			)
			if markErr := d.outboxRepo.MarkFailed(ctx, items[i].ID, err.Error()); markErr != nil {
				slog.Error("Failed to record dispatch failure", "outbox_id", items[i].ID, "error", markErr)
			}
			continue
		}

		metrics.IncOutboxDispatch(metrics.ResultSuccess)
		if err := d.outboxRepo.MarkDispatched(ctx, items[i].ID); err != nil {
			slog.Error("Failed to mark notification dispatched", "outbox_id", items[i].ID, "error", err)
			continue
		}
		dispatched++
	}

	if dead, err := d.outboxRepo.CountByStatus(ctx, models.OutboxDead); err == nil {
		metrics.SetOutboxDeadRows(dead)
	}
	return dispatched, nil
}

func (d *OutboxDispatcher) dispatch(ctx context.Context, item *models.OutboxItem) error {
	err := d.publisher.PublishNotification(ctx, NotificationEvent{
		Type:        string(item.Type),
		RecipientID: item.RecipientID,
		Title:       item.Subject,
		Body:        item.Message,
		Data:        item.Payload,
	})
	if err != nil {
		return err
	}

	if item.RecipientEmail != nil && *item.RecipientEmail != "" {
		if err := d.mailer.SendNotification(*item.RecipientEmail, item.Subject, item.Message); err != nil {
			return err
		}
	}
	return nil
}
