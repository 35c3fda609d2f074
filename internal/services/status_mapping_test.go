package services

import (
	"testing"

	"billingsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v76"
)

func TestMapStripeStatus(t *testing.T) {
	tests := []struct {
		in   stripe.SubscriptionStatus
		want models.SubscriptionStatus
	}{
		{stripe.SubscriptionStatusActive, models.SubscriptionActive},
		{stripe.SubscriptionStatusPastDue, models.SubscriptionPastDue},
		{stripe.SubscriptionStatusCanceled, models.SubscriptionCancelled},
		{stripe.SubscriptionStatusUnpaid, models.SubscriptionExpired},
		{stripe.SubscriptionStatusIncomplete, models.SubscriptionIncomplete},
		{stripe.SubscriptionStatusIncompleteExpired, models.SubscriptionExpired},
		{stripe.SubscriptionStatusTrialing, models.SubscriptionTrialing},
		{stripe.SubscriptionStatusPaused, models.SubscriptionPaused},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, known := MapStripeStatus(tt.in)
			assert.True(t, known)
			assert.Equal(t, tt.want, got)
		})
	}

	got, known := MapStripeStatus("something_new")
	assert.False(t, known)
	assert.Equal(t, models.SubscriptionActive, got)
}

func TestMapRazorpayStatus(t *testing.T) {
	tests := map[string]models.SubscriptionStatus{
		"created":       models.SubscriptionIncomplete,
		"authenticated": models.SubscriptionIncomplete,
		"active":        models.SubscriptionActive,
		"pending":       models.SubscriptionPastDue,
		"halted":        models.SubscriptionExpired,
		"cancelled":     models.SubscriptionCancelled,
		"completed":     models.SubscriptionExpired,
		"expired":       models.SubscriptionExpired,
		"paused":        models.SubscriptionPaused,
	}
	for in, want := range tests {
		got, known := MapRazorpayStatus(in)
		assert.True(t, known, in)
		assert.Equal(t, want, got, in)
	}

	_, known := MapRazorpayStatus("")
	assert.False(t, known)
}
