package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NotificationPublisher publishes notification events to RabbitMQ
type NotificationPublisher struct {
	conn              *RabbitMQConnection
	messagesPublished atomic.Int64
	messagesFailed    atomic.Int64

	mu              sync.Mutex
	lastPublishTime time.Time
}

// NewNotificationPublisher creates a new notification event publisher
func NewNotificationPublisher(conn *RabbitMQConnection) *NotificationPublisher {
	return &NotificationPublisher{
		conn:            conn,
		lastPublishTime: time.Now(),
	}
}

// PublishNotification publishes a notification event to the marketplace queue
func (p *NotificationPublisher) PublishNotification(ctx context.Context, event NotificationEvent) error {
	_, err := p.conn.Channel.QueueDeclare(
		MarketplaceNotiQueue, // queue name
		true,                 // durable
		false,                // delete when unused
		false,                // exclusive
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	err = p.conn.Channel.PublishWithContext(
		ctx,
		"",                   // exchange
		MarketplaceNotiQueue, // routing key (queue name)
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to publish notification event: %w", err)
	}

	p.messagesPublished.Add(1)
	p.mu.Lock()
	p.lastPublishTime = time.Now()
	p.mu.Unlock()

	slog.Info("Notification event published",
		"queue", MarketplaceNotiQueue,
		"type", event.Type,
		"recipient", event.RecipientID,
	)

	return nil
}

// Stats returns publish counters for health reporting
func (p *NotificationPublisher) Stats() (published, failed int64, lastPublish time.Time) {
	p.mu.Lock()
	last := p.lastPublishTime
	p.mu.Unlock()
	return p.messagesPublished.Load(), p.messagesFailed.Load(), last
}
