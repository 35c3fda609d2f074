package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"billingsync/internal/common"
	"billingsync/internal/models"

	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// breakerGateway guards the outbound calls of a Gateway with a circuit breaker.
// Webhook parsing is local and is not guarded.
type breakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker[any]
}

func WithCircuitBreaker(next Gateway, settings BreakerSettings, logger *slog.Logger) Gateway {
	threshold := settings.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(next.Name()),
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// only provider failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !common.IsKind(err, common.KindUpstream)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("billing provider circuit breaker state changed",
				"gateway", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &breakerGateway{next: next, breaker: cb}
}

func (g *breakerGateway) Name() models.Gateway { return g.next.Name() }

func (g *breakerGateway) ParseWebhook(payload []byte, header http.Header) (*models.BillingEvent, error) {
	return g.next.ParseWebhook(payload, header)
}

func (g *breakerGateway) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CreatedSubscription, error) {
	res, err := g.execute(func() (any, error) {
		return g.next.CreateSubscription(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return res.(*CreatedSubscription), nil
}

func (g *breakerGateway) CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error {
	_, err := g.execute(func() (any, error) {
		return nil, g.next.CancelAtPeriodEnd(ctx, gatewaySubscriptionID)
	})
	return err
}

func (g *breakerGateway) Reactivate(ctx context.Context, gatewaySubscriptionID string) error {
	_, err := g.execute(func() (any, error) {
		return nil, g.next.Reactivate(ctx, gatewaySubscriptionID)
	})
	return err
}

func (g *breakerGateway) execute(fn func() (any, error)) (any, error) {
	res, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, common.UpstreamError("billing provider unavailable", fmt.Errorf("%s: %w", g.next.Name(), err))
	}
	return res, err
}
