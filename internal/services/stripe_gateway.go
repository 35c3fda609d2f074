package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"billingsync/internal/common"
	"billingsync/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const StripeSignatureHeader = "Stripe-Signature"

type stripeGateway struct {
	api           *client.API
	secretKey     string
	webhookSecret string
}

// NewStripeGateway builds the Stripe provider. backends may be nil to use the
// public API endpoints.
func NewStripeGateway(secretKey, webhookSecret string, backends *stripe.Backends) Gateway {
	return &stripeGateway{
		api:           client.New(secretKey, backends),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
	}
}

func (g *stripeGateway) Name() models.Gateway { return models.GatewayStripe }

func (g *stripeGateway) ParseWebhook(payload []byte, header http.Header) (*models.BillingEvent, error) {
	if g.webhookSecret == "" {
		return nil, common.ErrWebhookSecretMissing
	}
	signature := header.Get(StripeSignatureHeader)
	if signature == "" {
		return nil, common.ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned),
			errors.Is(err, webhook.ErrNoValidSignature),
			errors.Is(err, webhook.ErrInvalidHeader),
			errors.Is(err, webhook.ErrTooOld):
			return nil, common.ErrInvalidSignature
		default:
			return nil, common.ValidationError(fmt.Sprintf("malformed stripe event: %v", err))
		}
	}

	out := &models.BillingEvent{
		ID:           event.ID,
		Gateway:      models.GatewayStripe,
		ProviderType: string(event.Type),
		Type:         normalizeStripeEventType(string(event.Type)),
		Created:      time.Unix(event.Created, 0).UTC(),
		Raw:          payload,
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case models.EventSubscriptionCreated, models.EventSubscriptionUpdated,
		models.EventSubscriptionDeleted, models.EventSubscriptionTrialWillEnd:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, common.ValidationError(fmt.Sprintf("malformed stripe subscription: %v", err))
		}
		out.Subscription = stripeSubscription(&sub)
	case models.EventInvoicePaymentSucceeded, models.EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, common.ValidationError(fmt.Sprintf("malformed stripe invoice: %v", err))
		}
		out.Invoice = stripeInvoice(&inv)
	}
	return out, nil
}

// normalizeStripeEventType strips the customer. prefix Stripe puts on subscription events.
func normalizeStripeEventType(t string) models.EventType {
	return models.EventType(strings.TrimPrefix(t, "customer."))
}

func stripeSubscription(sub *stripe.Subscription) *models.ProviderSubscription {
	status, known := MapStripeStatus(sub.Status)
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd

	out := &models.ProviderSubscription{
		ID:                 sub.ID,
		ProviderStatus:     string(sub.Status),
		Status:             status,
		StatusKnown:        known,
		CurrentPeriodStart: unixOrZero(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixOrZero(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  &cancelAtPeriodEnd,
		CanceledAt:         unixPtr(sub.CanceledAt),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if pm := sub.DefaultPaymentMethod; pm != nil && pm.Card != nil {
		out.PaymentMethod = &models.PaymentMethod{
			Last4:    pm.Card.Last4,
			Brand:    string(pm.Card.Brand),
			ExpMonth: int(pm.Card.ExpMonth),
			ExpYear:  int(pm.Card.ExpYear),
		}
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		out.PriceID = price.ID
		out.Amount = price.UnitAmount
		out.Currency = string(price.Currency)
	}
	return out
}

func stripeInvoice(inv *stripe.Invoice) *models.ProviderInvoice {
	out := &models.ProviderInvoice{
		ID:           inv.ID,
		AmountPaid:   inv.AmountPaid,
		AmountDue:    inv.AmountDue,
		Currency:     string(inv.Currency),
		AttemptCount: inv.AttemptCount,
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.PaymentIntent != nil {
		out.PaymentIntentID = inv.PaymentIntent.ID
	}
	if inv.StatusTransitions != nil {
		out.PaidAt = unixPtr(inv.StatusTransitions.PaidAt)
	}
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		out.NextPaymentAt = unixPtr(inv.Lines.Data[0].Period.End)
	}
	return out
}

func (g *stripeGateway) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CreatedSubscription, error) {
	if g.secretKey == "" {
		return nil, common.ConfigurationError("stripe secret key not configured")
	}

	customerID := params.CustomerID
	if customerID == "" {
		customerParams := &stripe.CustomerParams{Email: stripe.String(params.Email)}
		customerParams.Context = ctx
		customerParams.AddMetadata("userId", params.UserID.String())
		customer, err := g.api.Customers.New(customerParams)
		if err != nil {
			return nil, stripeUpstreamError("create customer", err)
		}
		customerID = customer.ID
	}

	subParams := &stripe.SubscriptionParams{
		Customer:        stripe.String(customerID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(params.PriceID)}},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	subParams.Context = ctx
	subParams.AddMetadata("userId", params.UserID.String())
	subParams.AddMetadata("planType", params.PlanType)
	subParams.AddMetadata("billingInterval", params.Interval)
	subParams.AddExpand("latest_invoice.payment_intent")

	sub, err := g.api.Subscriptions.New(subParams)
	if err != nil {
		return nil, stripeUpstreamError("create subscription", err)
	}

	out := &CreatedSubscription{
		GatewaySubscriptionID: sub.ID,
		CustomerID:            customerID,
		ProviderStatus:        string(sub.Status),
		CurrentPeriodStart:    sub.CurrentPeriodStart,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		Currency:              params.Currency,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.Amount = sub.Items.Data[0].Price.UnitAmount
		out.Currency = string(sub.Items.Data[0].Price.Currency)
	}
	if inv := sub.LatestInvoice; inv != nil {
		out.InvoiceID = inv.ID
		if inv.PaymentIntent != nil {
			out.PaymentIntentID = inv.PaymentIntent.ID
			out.ClientSecret = inv.PaymentIntent.ClientSecret
		}
	}
	return out, nil
}

func (g *stripeGateway) CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error {
	return g.setCancelAtPeriodEnd(ctx, gatewaySubscriptionID, true)
}

func (g *stripeGateway) Reactivate(ctx context.Context, gatewaySubscriptionID string) error {
	return g.setCancelAtPeriodEnd(ctx, gatewaySubscriptionID, false)
}

func (g *stripeGateway) setCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) error {
	if g.secretKey == "" {
		return common.ConfigurationError("stripe secret key not configured")
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Update(id, params); err != nil {
		return stripeUpstreamError("update subscription", err)
	}
	return nil
}

// stripeUpstreamError surfaces Stripe's own message when the API returned one.
func stripeUpstreamError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Msg != "" {
		return common.UpstreamError(stripeErr.Msg, fmt.Errorf("stripe %s: %w", op, err))
	}
	return common.UpstreamError("billing provider request failed", fmt.Errorf("stripe %s: %w", op, err))
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
