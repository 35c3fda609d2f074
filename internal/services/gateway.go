package services

import (
	"context"
	"fmt"
	"net/http"

	"billingsync/internal/common"
	"billingsync/internal/models"

	"github.com/google/uuid"
)

// Gateway is a billing provider: it authenticates and normalizes inbound
// webhooks and performs the outbound subscription calls this service needs.
type Gateway interface {
	Name() models.Gateway
	// ParseWebhook verifies payload against the provider signature carried in
	// header before decoding anything.
	ParseWebhook(payload []byte, header http.Header) (*models.BillingEvent, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CreatedSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error
	Reactivate(ctx context.Context, gatewaySubscriptionID string) error
}

type CreateSubscriptionParams struct {
	UserID     uuid.UUID
	Email      string
	CustomerID string
	PriceID    string
	PlanType   string
	Interval   string
	Currency   string
}

type CreatedSubscription struct {
	GatewaySubscriptionID string
	CustomerID            string
	ProviderStatus        string
	CurrentPeriodStart    int64
	CurrentPeriodEnd      int64
	Amount                int64
	Currency              string
	PaymentIntentID       string
	InvoiceID             string
	ClientSecret          string
}

// Gateways looks up configured providers by name.
type Gateways map[models.Gateway]Gateway

func NewGateways(gateways ...Gateway) Gateways {
	g := make(Gateways, len(gateways))
	for _, gw := range gateways {
		g[gw.Name()] = gw
	}
	return g
}

func (g Gateways) Get(name models.Gateway) (Gateway, error) {
	gw, ok := g[name]
	if !ok {
		return nil, common.ValidationError(fmt.Sprintf("unsupported payment gateway %q", name))
	}
	return gw, nil
}
