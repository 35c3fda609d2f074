package models

import "time"

// EventType is the gateway-neutral name of a billing notification.
type EventType string

const (
	EventSubscriptionCreated      EventType = "subscription.created"
	EventSubscriptionUpdated      EventType = "subscription.updated"
	EventSubscriptionDeleted      EventType = "subscription.deleted"
	EventSubscriptionTrialWillEnd EventType = "subscription.trial_will_end"
	EventInvoicePaymentSucceeded  EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     EventType = "invoice.payment_failed"
)

// BillingEvent is a verified provider notification normalized by a gateway.
// Unrecognized provider events keep their raw name in Type and carry no payload.
type BillingEvent struct {
	ID           string
	Gateway      Gateway
	Type         EventType
	ProviderType string
	Created      time.Time
	Subscription *ProviderSubscription
	Invoice      *ProviderInvoice
	Raw          []byte
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	ProviderStatus     string
	Status             SubscriptionStatus
	StatusKnown        bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	// CancelAtPeriodEnd is nil when the provider does not report it.
	CancelAtPeriodEnd *bool
	CanceledAt        *time.Time
	PaymentMethod     *PaymentMethod
	PriceID           string
	Amount            int64
	Currency          string
}

// ProviderInvoice is a billed period, or a single charge for gateways without invoices.
type ProviderInvoice struct {
	ID              string
	SubscriptionID  string
	PaymentIntentID string
	AmountPaid      int64
	AmountDue       int64
	Currency        string
	AttemptCount    int64
	PaidAt          *time.Time
	NextPaymentAt   *time.Time
}

// PaymentKey is the value payments are keyed on. Invoices settled without a
// payment intent fall back to the invoice id.
func (i *ProviderInvoice) PaymentKey() string {
	if i.PaymentIntentID != "" {
		return i.PaymentIntentID
	}
	return i.ID
}
