package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"billingsync/internal/common"
	"billingsync/internal/models"
)

const (
	RazorpaySignatureHeader = "X-Razorpay-Signature"
	RazorpayEventIDHeader   = "X-Razorpay-Event-Id"

	razorpayBaseURL = "https://api.razorpay.com/v1"
)

type razorpayService struct {
	apiKey        string
	apiSecret     string
	webhookSecret string
	baseURL       string
	http          *http.Client
}

type RazorpayOption func(*razorpayService)

// WithRazorpayBaseURL points the client at another API host.
func WithRazorpayBaseURL(u string) RazorpayOption {
	return func(s *razorpayService) { s.baseURL = u }
}

func WithRazorpayHTTPClient(c *http.Client) RazorpayOption {
	return func(s *razorpayService) { s.http = c }
}

// NewRazorpayService creates the Razorpay provider.
func NewRazorpayService(apiKey, apiSecret, webhookSecret string, opts ...RazorpayOption) Gateway {
	s := &razorpayService{
		apiKey:        apiKey,
		apiSecret:     apiSecret,
		webhookSecret: webhookSecret,
		baseURL:       razorpayBaseURL,
		http:          &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *razorpayService) Name() models.Gateway { return models.GatewayRazorpay }

type razorpayWebhook struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Subscription *struct {
			Entity razorpaySubscription `json:"entity"`
		} `json:"subscription"`
		Payment *struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpaySubscription struct {
	ID           string            `json:"id"`
	PlanID       string            `json:"plan_id"`
	CustomerID   string            `json:"customer_id"`
	Status       string            `json:"status"`
	CurrentStart int64             `json:"current_start"`
	CurrentEnd   int64             `json:"current_end"`
	EndedAt      int64             `json:"ended_at"`
	ChargeAt     int64             `json:"charge_at"`
	ShortURL     string            `json:"short_url"`
	Notes        map[string]string `json:"notes"`
}

type razorpayPayment struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	InvoiceID string `json:"invoice_id"`
	CreatedAt int64  `json:"created_at"`
	Card      *struct {
		Last4   string `json:"last4"`
		Network string `json:"network"`
	} `json:"card"`
}

// ParseWebhook verifies the hex HMAC-SHA256 of the raw body and normalizes the event.
func (s *razorpayService) ParseWebhook(payload []byte, header http.Header) (*models.BillingEvent, error) {
	if s.webhookSecret == "" {
		return nil, common.ErrWebhookSecretMissing
	}
	signature := header.Get(RazorpaySignatureHeader)
	if signature == "" {
		return nil, common.ErrMissingSignature
	}
	if !s.validSignature(payload, signature) {
		return nil, common.ErrInvalidSignature
	}

	var wh razorpayWebhook
	if err := json.Unmarshal(payload, &wh); err != nil {
		return nil, common.ValidationError(fmt.Sprintf("malformed razorpay event: %v", err))
	}

	eventID := header.Get(RazorpayEventIDHeader)
	if eventID == "" {
		sum := sha256.Sum256(payload)
		eventID = hex.EncodeToString(sum[:])
	}

	out := &models.BillingEvent{
		ID:           eventID,
		Gateway:      models.GatewayRazorpay,
		ProviderType: wh.Event,
		Type:         models.EventType(wh.Event),
		Created:      unixOrZero(wh.CreatedAt),
		Raw:          payload,
	}

	var sub *razorpaySubscription
	if wh.Payload.Subscription != nil {
		sub = &wh.Payload.Subscription.Entity
	}
	var payment *razorpayPayment
	if wh.Payload.Payment != nil {
		payment = &wh.Payload.Payment.Entity
	}

	switch wh.Event {
	case "subscription.activated", "subscription.authenticated", "subscription.updated",
		"subscription.paused", "subscription.resumed", "subscription.halted":
		out.Type = models.EventSubscriptionUpdated
	case "subscription.cancelled", "subscription.completed":
		out.Type = models.EventSubscriptionDeleted
	case "subscription.charged":
		out.Type = models.EventInvoicePaymentSucceeded
	case "subscription.pending":
		out.Type = models.EventInvoicePaymentFailed
	}

	switch out.Type {
	case models.EventSubscriptionUpdated, models.EventSubscriptionDeleted:
		if sub == nil {
			return nil, common.ValidationError("razorpay subscription event without subscription entity")
		}
		out.Subscription = razorpayProviderSubscription(sub, payment)
	case models.EventInvoicePaymentSucceeded, models.EventInvoicePaymentFailed:
		if sub == nil {
			return nil, common.ValidationError("razorpay payment event without subscription entity")
		}
		out.Invoice = razorpayProviderInvoice(sub, payment, eventID, out.Type == models.EventInvoicePaymentSucceeded)
	}
	return out, nil
}

func (s *razorpayService) validSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func razorpayProviderSubscription(sub *razorpaySubscription, payment *razorpayPayment) *models.ProviderSubscription {
	status, known := MapRazorpayStatus(sub.Status)
	out := &models.ProviderSubscription{
		ID:                 sub.ID,
		CustomerID:         sub.CustomerID,
		ProviderStatus:     sub.Status,
		Status:             status,
		StatusKnown:        known,
		CurrentPeriodStart: unixOrZero(sub.CurrentStart),
		CurrentPeriodEnd:   unixOrZero(sub.CurrentEnd),
		CanceledAt:         unixPtr(sub.EndedAt),
		PriceID:            sub.PlanID,
	}
	// Razorpay does not expose a pending cycle-end cancellation on the entity,
	// so CancelAtPeriodEnd stays nil and the local flag is kept.
	if payment != nil && payment.Card != nil {
		out.PaymentMethod = &models.PaymentMethod{Last4: payment.Card.Last4, Brand: payment.Card.Network}
	}
	return out
}

func razorpayProviderInvoice(sub *razorpaySubscription, payment *razorpayPayment, eventID string, succeeded bool) *models.ProviderInvoice {
	out := &models.ProviderInvoice{
		SubscriptionID:  sub.ID,
		PaymentIntentID: eventID,
		NextPaymentAt:   unixPtr(sub.ChargeAt),
	}
	if payment != nil {
		out.ID = payment.InvoiceID
		out.PaymentIntentID = payment.ID
		out.AmountDue = payment.Amount
		out.Currency = payment.Currency
		if succeeded {
			out.AmountPaid = payment.Amount
			out.PaidAt = unixPtr(payment.CreatedAt)
		}
	}
	return out
}

type razorpayCreateRequest struct {
	PlanID         string            `json:"plan_id"`
	TotalCount     int               `json:"total_count"`
	CustomerNotify int               `json:"customer_notify"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Notes          map[string]string `json:"notes,omitempty"`
}

func (s *razorpayService) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*CreatedSubscription, error) {
	totalCount := 120
	if params.Interval == models.IntervalYearly {
		totalCount = 10
	}
	body, err := s.makeRequest(ctx, http.MethodPost, "/subscriptions", razorpayCreateRequest{
		PlanID:         params.PriceID,
		TotalCount:     totalCount,
		CustomerNotify: 1,
		CustomerID:     params.CustomerID,
		Notes: map[string]string{
			"userId":          params.UserID.String(),
			"email":           params.Email,
			"planType":        params.PlanType,
			"billingInterval": params.Interval,
		},
	})
	if err != nil {
		return nil, err
	}

	var sub razorpaySubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, common.UpstreamError("billing provider returned an unreadable response", err)
	}
	return &CreatedSubscription{
		GatewaySubscriptionID: sub.ID,
		CustomerID:            sub.CustomerID,
		ProviderStatus:        sub.Status,
		CurrentPeriodStart:    sub.CurrentStart,
		CurrentPeriodEnd:      sub.CurrentEnd,
		Currency:              params.Currency,
		ClientSecret:          sub.ShortURL,
	}, nil
}

func (s *razorpayService) CancelAtPeriodEnd(ctx context.Context, gatewaySubscriptionID string) error {
	_, err := s.makeRequest(ctx, http.MethodPost, "/subscriptions/"+gatewaySubscriptionID+"/cancel",
		map[string]int{"cancel_at_cycle_end": 1})
	return err
}

// Reactivate is not offered by Razorpay once a cycle-end cancellation is scheduled.
func (s *razorpayService) Reactivate(ctx context.Context, gatewaySubscriptionID string) error {
	return common.UpstreamError("razorpay does not support reactivating a cancelled subscription", nil)
}

type razorpayErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (s *razorpayService) makeRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if s.apiKey == "" || s.apiSecret == "" {
		return nil, common.ConfigurationError("razorpay credentials not configured")
	}

	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(s.apiKey, s.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, common.UpstreamError("billing provider unreachable", fmt.Errorf("razorpay %s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.UpstreamError("billing provider response could not be read", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := "billing provider request failed with status " + strconv.Itoa(resp.StatusCode)
		var e razorpayErrorBody
		if json.Unmarshal(respBody, &e) == nil && e.Error.Description != "" {
			msg = e.Error.Description
		}
		return nil, common.UpstreamError(msg, fmt.Errorf("razorpay %s %s: status %d", method, path, resp.StatusCode))
	}
	return respBody, nil
}
