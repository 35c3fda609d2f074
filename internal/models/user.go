package models

import (
	"time"

	"github.com/google/uuid"
)

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipCancelled MembershipStatus = "cancelled"
	MembershipExpired   MembershipStatus = "expired"
	MembershipPaused    MembershipStatus = "paused"
)

// User is the slice of the account record this service reads and writes.
// Membership and Billing are projections of the owning Subscription.
type User struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Email      string          `json:"email" db:"email"`
	Membership *Membership     `json:"membership,omitempty" db:"membership"`
	Billing    *BillingSummary `json:"billing,omitempty" db:"billing"`
	CreatedAt  time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time       `json:"updatedAt" db:"updated_at"`
}

type Membership struct {
	Type              string           `json:"type"`
	BillingInterval   string           `json:"billingInterval"`
	Status            MembershipStatus `json:"status"`
	CurrentPeriodEnd  *time.Time       `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool             `json:"cancelAtPeriodEnd"`
	CancelledAt       *time.Time       `json:"cancelledAt,omitempty"`
	SubscriptionID    string           `json:"subscriptionId"`
	PaymentGateway    string           `json:"paymentGateway"`
}

type BillingSummary struct {
	CustomerID  string           `json:"customerId,omitempty"`
	LastPayment *PaymentSummary  `json:"lastPayment,omitempty"`
	NextPayment *UpcomingPayment `json:"nextPayment,omitempty"`
}

type PaymentSummary struct {
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	PaidAt          time.Time `json:"paidAt"`
	PaymentIntentID string    `json:"paymentIntentId"`
}

type UpcomingPayment struct {
	Amount   int64     `json:"amount"`
	Currency string    `json:"currency"`
	DueAt    time.Time `json:"dueAt"`
}
