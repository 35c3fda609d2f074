package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCancelled  SubscriptionStatus = "cancelled"
	SubscriptionExpired    SubscriptionStatus = "expired"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPaused     SubscriptionStatus = "paused"
)

// IsTerminal reports whether the status means the subscription no longer renews.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionCancelled || s == SubscriptionExpired
}

// Grants reports whether the status by itself entitles the owner to access.
func (s SubscriptionStatus) Grants() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

type Gateway string

const (
	GatewayStripe   Gateway = "stripe"
	GatewayRazorpay Gateway = "razorpay"
)

const (
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// PaymentMethod is a card snapshot taken from the billing provider.
type PaymentMethod struct {
	Last4    string `json:"last4"`
	Brand    string `json:"brand"`
	ExpMonth int    `json:"expMonth"`
	ExpYear  int    `json:"expYear"`
}

type Subscription struct {
	ID                    uuid.UUID          `json:"id" db:"id"`
	UserID                uuid.UUID          `json:"userId" db:"user_id"`
	Gateway               Gateway            `json:"gateway" db:"gateway"`
	GatewaySubscriptionID string             `json:"gatewaySubscriptionId" db:"gateway_subscription_id"`
	GatewayCustomerID     string             `json:"gatewayCustomerId,omitempty" db:"gateway_customer_id"`
	PlanType              string             `json:"planType" db:"plan_type"`
	BillingInterval       string             `json:"billingInterval" db:"billing_interval"`
	Status                SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodStart    time.Time          `json:"currentPeriodStart" db:"current_period_start"`
	CurrentPeriodEnd      time.Time          `json:"currentPeriodEnd" db:"current_period_end"`
	CancelAtPeriodEnd     bool               `json:"cancelAtPeriodEnd" db:"cancel_at_period_end"`
	CancelledAt           *time.Time         `json:"cancelledAt,omitempty" db:"cancelled_at"`
	CancelReason          string             `json:"cancelReason,omitempty" db:"cancel_reason"`
	Amount                int64              `json:"amount" db:"amount"`
	Currency              string             `json:"currency" db:"currency"`
	NextBillingDate       *time.Time         `json:"nextBillingDate,omitempty" db:"next_billing_date"`
	FailedPaymentCount    int                `json:"failedPaymentCount" db:"failed_payment_count"`
	LastFailedPaymentAt   *time.Time         `json:"lastFailedPaymentAt,omitempty" db:"last_failed_payment_at"`
	LastBillingDate       *time.Time         `json:"lastBillingDate,omitempty" db:"last_billing_date"`
	PaymentMethod         *PaymentMethod     `json:"paymentMethod,omitempty" db:"payment_method"`
	CreatedAt             time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time          `json:"updatedAt" db:"updated_at"`
}

// AccessUntil returns the instant access lapses. A subscription cancelled at
// period end keeps access until CurrentPeriodEnd even though Status reads
// cancelled. Nil means no access.
func (s *Subscription) AccessUntil() *time.Time {
	switch {
	case s.Status.Grants(), s.Status == SubscriptionPastDue:
		end := s.CurrentPeriodEnd
		return &end
	case s.Status == SubscriptionCancelled && s.CancelAtPeriodEnd:
		end := s.CurrentPeriodEnd
		return &end
	default:
		return nil
	}
}

// HasAccess reports whether the owner is entitled to access at now.
func (s *Subscription) HasAccess(now time.Time) bool {
	if s.Status.Grants() || s.Status == SubscriptionPastDue {
		return true
	}
	if s.Status == SubscriptionCancelled && s.CancelAtPeriodEnd {
		return now.Before(s.CurrentPeriodEnd)
	}
	return false
}
