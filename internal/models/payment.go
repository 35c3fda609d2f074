package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

const ItemTypeSubscription = "subscription"

// Payment records one provider payment attempt. PaymentIntentID is unique.
type Payment struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	UserID          uuid.UUID         `json:"userId" db:"user_id"`
	ItemType        string            `json:"itemType" db:"item_type"`
	ItemID          uuid.UUID         `json:"itemId" db:"item_id"`
	PaymentIntentID string            `json:"paymentIntentId" db:"payment_intent_id"`
	InvoiceID       string            `json:"invoiceId,omitempty" db:"invoice_id"`
	Amount          int64             `json:"amount" db:"amount"`
	Currency        string            `json:"currency" db:"currency"`
	Gateway         Gateway           `json:"gateway" db:"gateway"`
	Status          PaymentStatus     `json:"status" db:"status"`
	InitiatedAt     time.Time         `json:"initiatedAt" db:"initiated_at"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty" db:"completed_at"`
	FailedAt        *time.Time        `json:"failedAt,omitempty" db:"failed_at"`
	Metadata        map[string]string `json:"metadata,omitempty" db:"metadata"`
}
