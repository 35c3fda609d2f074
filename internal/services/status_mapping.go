package services

import (
	"billingsync/internal/models"

	"github.com/stripe/stripe-go/v76"
)

// MapStripeStatus translates a Stripe subscription status. known is false for
// values this build does not recognize; the caller decides the fallback.
func MapStripeStatus(status stripe.SubscriptionStatus) (local models.SubscriptionStatus, known bool) {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionActive, true
	case stripe.SubscriptionStatusPastDue:
		return models.SubscriptionPastDue, true
	case stripe.SubscriptionStatusCanceled:
		return models.SubscriptionCancelled, true
	case stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionExpired, true
	case stripe.SubscriptionStatusIncomplete:
		return models.SubscriptionIncomplete, true
	case stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionExpired, true
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionTrialing, true
	case stripe.SubscriptionStatusPaused:
		return models.SubscriptionPaused, true
	default:
		return models.SubscriptionActive, false
	}
}

type razorpayStatus string

const (
	razorpayCreated       razorpayStatus = "created"
	razorpayAuthenticated razorpayStatus = "authenticated"
	razorpayActive        razorpayStatus = "active"
	razorpayPending       razorpayStatus = "pending"
	razorpayHalted        razorpayStatus = "halted"
	razorpayCancelled     razorpayStatus = "cancelled"
	razorpayCompleted     razorpayStatus = "completed"
	razorpayExpired       razorpayStatus = "expired"
	razorpayPaused        razorpayStatus = "paused"
)

func MapRazorpayStatus(status string) (local models.SubscriptionStatus, known bool) {
	switch razorpayStatus(status) {
	case razorpayCreated, razorpayAuthenticated:
		return models.SubscriptionIncomplete, true
	case razorpayActive:
		return models.SubscriptionActive, true
	case razorpayPending:
		return models.SubscriptionPastDue, true
	case razorpayHalted, razorpayCompleted, razorpayExpired:
		return models.SubscriptionExpired, true
	case razorpayCancelled:
		return models.SubscriptionCancelled, true
	case razorpayPaused:
		return models.SubscriptionPaused, true
	default:
		return models.SubscriptionActive, false
	}
}
