package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"billingsync/internal/caching"
	"billingsync/internal/models"
	"billingsync/internal/repositories"
	"billingsync/pkg/database"

	"github.com/google/uuid"
)

var (
	// errNoChange rolls back a delivery that matched nothing locally.
	errNoChange = errors.New("webhook matched no local record")
	// errDuplicateEvent rolls back a delivery already in the ledger.
	errDuplicateEvent = errors.New("webhook event already processed")
)

// WebhookService verifies inbound billing notifications and applies each one
// at most once.
type WebhookService interface {
	Receive(ctx context.Context, gateway models.Gateway, payload []byte, header http.Header) error
	Dispatch(ctx context.Context, event *models.BillingEvent) error
}

type WebhookServiceConfig struct {
	DedupTTL time.Duration
}

type webhookService struct {
	gateways      Gateways
	tx            database.Transactor
	subscriptions repositories.SubscriptionRepository
	payments      repositories.PaymentRepository
	events        repositories.WebhookEventRepository
	projector     *MembershipProjector
	cache         caching.CacheService
	archive       WebhookArchive
	clock         Clock
	logger        *slog.Logger
	cfg           WebhookServiceConfig
}

func NewWebhookService(
	gateways Gateways,
	tx database.Transactor,
	subscriptions repositories.SubscriptionRepository,
	payments repositories.PaymentRepository,
	events repositories.WebhookEventRepository,
	projector *MembershipProjector,
	cache caching.CacheService,
	archive WebhookArchive,
	clock Clock,
	logger *slog.Logger,
	cfg WebhookServiceConfig,
) WebhookService {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 72 * time.Hour
	}
	return &webhookService{
		gateways:      gateways,
		tx:            tx,
		subscriptions: subscriptions,
		payments:      payments,
		events:        events,
		projector:     projector,
		cache:         cache,
		archive:       archive,
		clock:         clock,
		logger:        logger,
		cfg:           cfg,
	}
}

// Receive authenticates the raw payload with the gateway's signing scheme and
// applies it. Business misses are logged and reported as success.
func (s *webhookService) Receive(ctx context.Context, gateway models.Gateway, payload []byte, header http.Header) error {
	gw, err := s.gateways.Get(gateway)
	if err != nil {
		return err
	}

	event, err := gw.ParseWebhook(payload, header)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	log := s.logger.With("gateway", event.Gateway, "event_id", event.ID, "event_type", event.ProviderType)

	if err := s.archive.Archive(ctx, event, now); err != nil {
		log.Warn("failed to archive webhook payload", "error", err)
	}

	seen, err := s.cache.IsEventProcessed(ctx, event.Gateway, event.ID)
	if err != nil {
		log.Warn("webhook dedup cache unavailable, relying on ledger", "error", err)
	} else if seen {
		log.Info("duplicate webhook delivery ignored")
		return nil
	}

	var touched *models.Subscription
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		recorded, err := s.events.Record(ctx, &models.WebhookEvent{
			Gateway:    event.Gateway,
			EventID:    event.ID,
			EventType:  event.ProviderType,
			ReceivedAt: now,
		})
		if err != nil {
			return fmt.Errorf("record webhook event: %w", err)
		}
		if !recorded {
			return errDuplicateEvent
		}
		touched, err = s.dispatch(ctx, event, now)
		return err
	})

	switch {
	case errors.Is(err, errDuplicateEvent):
		log.Info("duplicate webhook delivery ignored")
	case errors.Is(err, errNoChange):
		return nil
	case err != nil:
		log.Error("failed to process webhook", "error", err)
		return err
	default:
		log.Info("webhook processed")
	}

	if err := s.cache.MarkEventProcessed(ctx, event.Gateway, event.ID, s.cfg.DedupTTL); err != nil {
		log.Warn("failed to mark webhook event processed", "error", err)
	}
	s.invalidate(ctx, touched)
	return nil
}

// Dispatch applies an already verified event without consulting the ledger.
func (s *webhookService) Dispatch(ctx context.Context, event *models.BillingEvent) error {
	var touched *models.Subscription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		touched, err = s.dispatch(ctx, event, s.clock.Now())
		return err
	})
	if errors.Is(err, errNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched)
	return nil
}

func (s *webhookService) dispatch(ctx context.Context, event *models.BillingEvent, now time.Time) (*models.Subscription, error) {
	switch event.Type {
	case models.EventSubscriptionCreated, models.EventSubscriptionUpdated:
		return s.applySubscriptionUpdate(ctx, event, now)
	case models.EventSubscriptionDeleted:
		return s.applySubscriptionDeletion(ctx, event, now)
	case models.EventInvoicePaymentSucceeded:
		return s.applyPaymentSuccess(ctx, event, now)
	case models.EventInvoicePaymentFailed:
		return s.applyPaymentFailure(ctx, event, now)
	case models.EventSubscriptionTrialWillEnd:
		s.logger.Info("trial ending soon", "gateway", event.Gateway, "event_id", event.ID)
		return nil, nil
	default:
		s.logger.Info("unhandled webhook event type ignored",
			"gateway", event.Gateway,
			"event_id", event.ID,
			"event_type", event.ProviderType,
		)
		return nil, nil
	}
}

// lockSubscription returns errNoChange when the provider id is unknown locally.
func (s *webhookService) lockSubscription(ctx context.Context, event *models.BillingEvent, gatewaySubscriptionID string) (*models.Subscription, error) {
	sub, err := s.subscriptions.LockByGatewayID(ctx, event.Gateway, gatewaySubscriptionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.logger.Warn("subscription not found for webhook",
				"gateway", event.Gateway,
				"event_id", event.ID,
				"event_type", event.ProviderType,
				"gateway_subscription_id", gatewaySubscriptionID,
			)
			return nil, errNoChange
		}
		return nil, fmt.Errorf("load subscription %s: %w", gatewaySubscriptionID, err)
	}
	return sub, nil
}

func (s *webhookService) applySubscriptionUpdate(ctx context.Context, event *models.BillingEvent, now time.Time) (*models.Subscription, error) {
	ps := event.Subscription
	if ps == nil {
		return nil, errNoChange
	}
	sub, err := s.lockSubscription(ctx, event, ps.ID)
	if err != nil {
		return nil, err
	}

	if !ps.StatusKnown {
		s.logger.Warn("unknown provider subscription status, treating as active",
			"gateway", event.Gateway,
			"provider_status", ps.ProviderStatus,
			"subscription_id", sub.ID,
		)
	}

	sub.Status = ps.Status
	if !ps.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = ps.CurrentPeriodStart
	}
	if !ps.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = ps.CurrentPeriodEnd
	}
	if ps.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *ps.CancelAtPeriodEnd
	}
	if sub.CancelAtPeriodEnd {
		sub.NextBillingDate = nil
	} else if !sub.CurrentPeriodEnd.IsZero() {
		next := sub.CurrentPeriodEnd
		sub.NextBillingDate = &next
	}
	if ps.CanceledAt != nil {
		sub.CancelledAt = ps.CanceledAt
	}
	if ps.PaymentMethod != nil {
		sub.PaymentMethod = ps.PaymentMethod
	}
	if ps.CustomerID != "" {
		sub.GatewayCustomerID = ps.CustomerID
	}
	if ps.Amount > 0 {
		sub.Amount = ps.Amount
	}
	if ps.Currency != "" {
		sub.Currency = ps.Currency
	}
	sub.UpdatedAt = now

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if err := s.projector.ProjectUpdate(ctx, sub, now); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *webhookService) applySubscriptionDeletion(ctx context.Context, event *models.BillingEvent, now time.Time) (*models.Subscription, error) {
	ps := event.Subscription
	if ps == nil {
		return nil, errNoChange
	}
	sub, err := s.lockSubscription(ctx, event, ps.ID)
	if err != nil {
		return nil, err
	}

	sub.Status = models.SubscriptionExpired
	sub.NextBillingDate = nil
	switch {
	case ps.CanceledAt != nil:
		sub.CancelledAt = ps.CanceledAt
	case sub.CancelledAt == nil:
		sub.CancelledAt = &now
	}
	sub.UpdatedAt = now

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}
	if err := s.projector.ProjectDeletion(ctx, sub, now); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *webhookService) applyPaymentSuccess(ctx context.Context, event *models.BillingEvent, now time.Time) (*models.Subscription, error) {
	inv := event.Invoice
	if inv == nil || inv.SubscriptionID == "" {
		s.logger.Debug("invoice not linked to a subscription, ignored", "event_id", event.ID)
		return nil, errNoChange
	}
	sub, err := s.lockSubscription(ctx, event, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}

	paidAt := now
	if inv.PaidAt != nil {
		paidAt = *inv.PaidAt
	}
	sub.LastBillingDate = &paidAt
	sub.FailedPaymentCount = 0
	sub.LastFailedPaymentAt = nil
	if inv.NextPaymentAt != nil && !sub.CancelAtPeriodEnd {
		sub.NextBillingDate = inv.NextPaymentAt
	}
	sub.UpdatedAt = now

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}

	payment := s.invoicePayment(event, sub, now)
	payment.Status = models.PaymentSucceeded
	payment.Amount = inv.AmountPaid
	payment.CompletedAt = &paidAt
	if err := s.payments.Upsert(ctx, payment); err != nil {
		return nil, fmt.Errorf("upsert payment %s: %w", payment.PaymentIntentID, err)
	}

	if err := s.projector.ProjectPaymentSuccess(ctx, sub, payment); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *webhookService) applyPaymentFailure(ctx context.Context, event *models.BillingEvent, now time.Time) (*models.Subscription, error) {
	inv := event.Invoice
	if inv == nil || inv.SubscriptionID == "" {
		s.logger.Debug("invoice not linked to a subscription, ignored", "event_id", event.ID)
		return nil, errNoChange
	}
	sub, err := s.lockSubscription(ctx, event, inv.SubscriptionID)
	if err != nil {
		return nil, err
	}

	sub.FailedPaymentCount++
	sub.LastFailedPaymentAt = &now
	sub.Status = models.SubscriptionPastDue
	sub.UpdatedAt = now

	if err := s.subscriptions.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", sub.ID, err)
	}

	payment := s.invoicePayment(event, sub, now)
	payment.Status = models.PaymentFailed
	payment.Amount = inv.AmountDue
	payment.FailedAt = &now
	if err := s.payments.Upsert(ctx, payment); err != nil {
		return nil, fmt.Errorf("upsert payment %s: %w", payment.PaymentIntentID, err)
	}

	if err := s.projector.ProjectPaymentFailure(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *webhookService) invoicePayment(event *models.BillingEvent, sub *models.Subscription, now time.Time) *models.Payment {
	inv := event.Invoice
	currency := inv.Currency
	if currency == "" {
		currency = sub.Currency
	}
	return &models.Payment{
		ID:              uuid.New(),
		UserID:          sub.UserID,
		ItemType:        models.ItemTypeSubscription,
		ItemID:          sub.ID,
		PaymentIntentID: inv.PaymentKey(),
		InvoiceID:       inv.ID,
		Currency:        currency,
		Gateway:         event.Gateway,
		InitiatedAt:     now,
		Metadata: map[string]string{
			"eventId":               event.ID,
			"gatewaySubscriptionId": inv.SubscriptionID,
		},
	}
}

func (s *webhookService) invalidate(ctx context.Context, sub *models.Subscription) {
	if sub == nil {
		return
	}
	if err := s.cache.DeleteSubscription(ctx, sub.ID); err != nil {
		s.logger.Warn("failed to invalidate cached subscription", "subscription_id", sub.ID, "error", err)
	}
}
