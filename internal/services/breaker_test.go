package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"billingsync/internal/common"
	"billingsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterConsecutiveUpstreamFailures(t *testing.T) {
	inner := NewMockGateway(models.GatewayStripe)
	gw := WithCircuitBreaker(inner, BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Minute}, discardLogger())
	ctx := context.Background()

	inner.On("CancelAtPeriodEnd", mock.Anything, "sub_1").
		Return(common.UpstreamError("billing provider unreachable", nil)).Twice()

	for i := 0; i < 2; i++ {
		err := gw.CancelAtPeriodEnd(ctx, "sub_1")
		assert.Equal(t, "billing provider unreachable", common.PublicMessage(err))
	}

	err := gw.CancelAtPeriodEnd(ctx, "sub_1")
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.KindUpstream))
	assert.Equal(t, "billing provider unavailable", common.PublicMessage(err))
	inner.AssertNumberOfCalls(t, "CancelAtPeriodEnd", 2)
}

func TestCircuitBreaker_IgnoresNonUpstreamErrors(t *testing.T) {
	inner := NewMockGateway(models.GatewayRazorpay)
	gw := WithCircuitBreaker(inner, BreakerSettings{FailureThreshold: 1, OpenTimeout: time.Minute}, discardLogger())

	inner.On("Reactivate", mock.Anything, "sub_1").
		Return(common.ConfigurationError("razorpay credentials not configured")).Times(3)

	for i := 0; i < 3; i++ {
		err := gw.Reactivate(context.Background(), "sub_1")
		assert.True(t, common.IsKind(err, common.KindConfiguration))
	}
	inner.AssertExpectations(t)
}

func TestCircuitBreaker_PassesResultsThrough(t *testing.T) {
	inner := NewMockGateway(models.GatewayStripe)
	gw := WithCircuitBreaker(inner, BreakerSettings{}, discardLogger())
	assert.Equal(t, models.GatewayStripe, gw.Name())

	created := &CreatedSubscription{GatewaySubscriptionID: "sub_new"}
	inner.On("CreateSubscription", mock.Anything, mock.Anything).Return(created, nil).Once()
	got, err := gw.CreateSubscription(context.Background(), CreateSubscriptionParams{})
	require.NoError(t, err)
	assert.Same(t, created, got)

	event := &models.BillingEvent{ID: "evt_1"}
	inner.On("ParseWebhook", []byte("x"), mock.Anything).Return(event, nil).Once()
	parsed, err := gw.ParseWebhook([]byte("x"), http.Header{})
	require.NoError(t, err)
	assert.Same(t, event, parsed)

	inner.AssertExpectations(t)
}
