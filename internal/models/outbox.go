package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationInvoiceStatusChanged NotificationType = "invoice_status_changed"
	NotificationNewOffer             NotificationType = "new_offer"
	NotificationOfferAccepted        NotificationType = "offer_accepted"
	NotificationOfferRejected        NotificationType = "offer_rejected"
	NotificationOfferWithdrawn       NotificationType = "offer_withdrawn"
	NotificationOfferExpired         NotificationType = "offer_expired"
)

// OutboxMaxAttempts caps dispatch retries before an item is parked as dead.
const OutboxMaxAttempts = 5

// OutboxItem is a notification work item enqueued in the same transaction as
// the state change it announces, and dispatched asynchronously with
// independent retry. Notification failure never reverts lifecycle state.
type OutboxItem struct {
	ID             uuid.UUID        `json:"id" db:"id"`
	Type           NotificationType `json:"type" db:"type"`
	RecipientID    string           `json:"recipient_id" db:"recipient_id"`
	RecipientEmail *string          `json:"recipient_email,omitempty" db:"recipient_email"`
	Subject        string           `json:"subject" db:"subject"`
	Message        string           `json:"message" db:"message"`
	Payload        json.RawMessage  `json:"payload" db:"payload"`
	Status         OutboxStatus     `json:"status" db:"status"`
	Attempts       int              `json:"attempts" db:"attempts"`
	LastError      *string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	DispatchedAt   *time.Time       `json:"dispatched_at,omitempty" db:"dispatched_at"`
}

func NewOutboxItem(notifType NotificationType, recipientID string, recipientEmail *string, subject, message string, payload any) (*OutboxItem, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxItem{
		ID:             uuid.New(),
		Type:           notifType,
		RecipientID:    recipientID,
		RecipientEmail: recipientEmail,
		Subject:        subject,
		Message:        message,
		Payload:        body,
		Status:         OutboxPending,
		CreatedAt:      time.Now(),
	}, nil
}
