package models

import "time"

// WebhookEvent is the ledger row written once per provider event id.
type WebhookEvent struct {
	Gateway    Gateway   `json:"gateway" db:"gateway"`
	EventID    string    `json:"eventId" db:"event_id"`
	EventType  string    `json:"eventType" db:"event_type"`
	ReceivedAt time.Time `json:"receivedAt" db:"received_at"`
}
