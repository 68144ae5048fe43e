package event

import "encoding/json"

// NotificationEvent is the message sent to the notification queue for every
// outbox item. Data carries the original domain payload untouched.
type NotificationEvent struct {
	Type        string          `json:"type"`
	RecipientID string          `json:"recipient_id"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	Data        json.RawMessage `json:"data,omitempty"`
}

const MarketplaceNotiQueue string = "marketplace_noti_events"
