package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"billingsync/internal/caching"
	"billingsync/internal/common"
	"billingsync/internal/models"
	"billingsync/internal/repositories"
	"billingsync/pkg/database"

	"github.com/google/uuid"
)

// SubscriptionService handles the synchronous subscription operations.
type SubscriptionService interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*CreateSubscriptionResult, error)
	Get(ctx context.Context, userID, subscriptionID uuid.UUID) (*SubscriptionView, error)
	Cancel(ctx context.Context, userID, subscriptionID uuid.UUID, reason string) (*models.Subscription, error)
	Reactivate(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error)
}

// PriceLookup resolves a provider price or plan id.
type PriceLookup interface {
	Lookup(plan, interval, currency string) (string, bool)
}

type CreateSubscriptionRequest struct {
	UserID          uuid.UUID
	Email           string
	PlanType        string
	BillingInterval string
	Currency        string
	Gateway         models.Gateway
}

type CreateSubscriptionResult struct {
	Subscription    *models.Subscription `json:"subscription"`
	PaymentIntentID string               `json:"paymentIntentId,omitempty"`
	ClientSecret    string               `json:"clientSecret,omitempty"`
}

// SubscriptionView is a Subscription with its derived access window.
type SubscriptionView struct {
	*models.Subscription
	AccessUntil *time.Time `json:"accessUntil,omitempty"`
	HasAccess   bool       `json:"hasAccess"`
}

type SubscriptionServiceConfig struct {
	Prices   map[models.Gateway]PriceLookup
	CacheTTL time.Duration
}

type subscriptionService struct {
	gateways      Gateways
	tx            database.Transactor
	subscriptions repositories.SubscriptionRepository
	payments      repositories.PaymentRepository
	users         repositories.UserRepository
	projector     *MembershipProjector
	cache         caching.CacheService
	clock         Clock
	logger        *slog.Logger
	cfg           SubscriptionServiceConfig
}

func NewSubscriptionService(
	gateways Gateways,
	tx database.Transactor,
	subscriptions repositories.SubscriptionRepository,
	payments repositories.PaymentRepository,
	users repositories.UserRepository,
	projector *MembershipProjector,
	cache caching.CacheService,
	clock Clock,
	logger *slog.Logger,
	cfg SubscriptionServiceConfig,
) SubscriptionService {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	return &subscriptionService{
		gateways:      gateways,
		tx:            tx,
		subscriptions: subscriptions,
		payments:      payments,
		users:         users,
		projector:     projector,
		cache:         cache,
		clock:         clock,
		logger:        logger,
		cfg:           cfg,
	}
}

// Create opens a provider subscription awaiting first payment and records it
// locally as incomplete.
func (s *subscriptionService) Create(ctx context.Context, req CreateSubscriptionRequest) (*CreateSubscriptionResult, error) {
	req.BillingInterval = strings.ToLower(strings.TrimSpace(req.BillingInterval))
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Gateway == "" {
		req.Gateway = models.GatewayStripe
	}

	if req.UserID == uuid.Nil {
		return nil, common.ValidationError("userId is required")
	}
	if err := common.ValidateRequiredString(req.PlanType, "planType"); err != nil {
		return nil, err
	}
	if err := common.ValidateOneOf(req.BillingInterval, "billingInterval", models.IntervalMonthly, models.IntervalYearly); err != nil {
		return nil, err
	}
	if err := common.ValidateRequiredString(req.Currency, "currency"); err != nil {
		return nil, err
	}

	gw, err := s.gateways.Get(req.Gateway)
	if err != nil {
		return nil, err
	}

	prices, ok := s.cfg.Prices[req.Gateway]
	if !ok {
		return nil, common.ConfigurationError(fmt.Sprintf("no price catalog configured for %s", req.Gateway))
	}
	priceID, ok := prices.Lookup(req.PlanType, req.BillingInterval, req.Currency)
	if !ok {
		return nil, common.ValidationError(fmt.Sprintf("no price configured for plan %s (%s, %s)", req.PlanType, req.BillingInterval, req.Currency))
	}

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user %s: %w", req.UserID, err)
	}
	email := req.Email
	if email == "" {
		email = user.Email
	}
	var customerID string
	if user.Billing != nil {
		customerID = user.Billing.CustomerID
	}

	created, err := gw.CreateSubscription(ctx, CreateSubscriptionParams{
		UserID:     req.UserID,
		Email:      email,
		CustomerID: customerID,
		PriceID:    priceID,
		PlanType:   req.PlanType,
		Interval:   req.BillingInterval,
		Currency:   req.Currency,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	sub := &models.Subscription{
		ID:                    uuid.New(),
		UserID:                req.UserID,
		Gateway:               req.Gateway,
		GatewaySubscriptionID: created.GatewaySubscriptionID,
		GatewayCustomerID:     created.CustomerID,
		PlanType:              req.PlanType,
		BillingInterval:       req.BillingInterval,
		Status:                models.SubscriptionIncomplete,
		CurrentPeriodStart:    unixOrZero(created.CurrentPeriodStart),
		CurrentPeriodEnd:      unixOrZero(created.CurrentPeriodEnd),
		Amount:                created.Amount,
		Currency:              created.Currency,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if sub.Currency == "" {
		sub.Currency = req.Currency
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.subscriptions.Create(ctx, sub); err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		if created.PaymentIntentID == "" {
			return nil
		}
		return s.payments.Upsert(ctx, &models.Payment{
			ID:              uuid.New(),
			UserID:          sub.UserID,
			ItemType:        models.ItemTypeSubscription,
			ItemID:          sub.ID,
			PaymentIntentID: created.PaymentIntentID,
			InvoiceID:       created.InvoiceID,
			Amount:          sub.Amount,
			Currency:        sub.Currency,
			Gateway:         sub.Gateway,
			Status:          models.PaymentPending,
			InitiatedAt:     now,
		})
	})
	if err != nil {
		// the provider side stays incomplete and expires on its own
		s.logger.Error("failed to record created subscription",
			"gateway", sub.Gateway,
			"gateway_subscription_id", sub.GatewaySubscriptionID,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("subscription created",
		"subscription_id", sub.ID,
		"user_id", sub.UserID,
		"gateway", sub.Gateway,
		"plan_type", sub.PlanType,
	)

	return &CreateSubscriptionResult{
		Subscription:    sub,
		PaymentIntentID: created.PaymentIntentID,
		ClientSecret:    created.ClientSecret,
	}, nil
}

func (s *subscriptionService) Get(ctx context.Context, userID, subscriptionID uuid.UUID) (*SubscriptionView, error) {
	sub, err := s.cache.GetSubscription(ctx, subscriptionID)
	if err != nil {
		s.logger.Warn("subscription cache read failed", "subscription_id", subscriptionID, "error", err)
	}
	if sub == nil || sub.UserID != userID {
		sub, err = s.load(ctx, userID, subscriptionID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.SetSubscription(ctx, sub, s.cfg.CacheTTL); err != nil {
			s.logger.Warn("subscription cache write failed", "subscription_id", sub.ID, "error", err)
		}
	}

	return &SubscriptionView{
		Subscription: sub,
		AccessUntil:  sub.AccessUntil(),
		HasAccess:    sub.HasAccess(s.clock.Now()),
	}, nil
}

// Cancel schedules cancellation at the end of the paid period. Access stays
// until CurrentPeriodEnd.
func (s *subscriptionService) Cancel(ctx context.Context, userID, subscriptionID uuid.UUID, reason string) (*models.Subscription, error) {
	sub, err := s.load(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, common.ErrAlreadyCancelled
	}

	gw, err := s.gatewayFor(sub)
	if err != nil {
		return nil, err
	}
	if err := gw.CancelAtPeriodEnd(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.mutate(ctx, sub, func(ctx context.Context, sub *models.Subscription) error {
		sub.CancelAtPeriodEnd = true
		sub.CancelledAt = &now
		sub.CancelReason = reason
		sub.Status = models.SubscriptionCancelled
		sub.NextBillingDate = nil
		sub.UpdatedAt = now
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.projector.ProjectCancel(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription cancelled at period end",
		"subscription_id", updated.ID,
		"user_id", updated.UserID,
		"current_period_end", updated.CurrentPeriodEnd,
	)
	return updated, nil
}

// Reactivate withdraws a pending period-end cancellation.
func (s *subscriptionService) Reactivate(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.load(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, common.ErrNotCancelled
	}

	gw, err := s.gatewayFor(sub)
	if err != nil {
		return nil, err
	}
	if err := gw.Reactivate(ctx, sub.GatewaySubscriptionID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := s.mutate(ctx, sub, func(ctx context.Context, sub *models.Subscription) error {
		sub.CancelAtPeriodEnd = false
		sub.CancelledAt = nil
		sub.CancelReason = ""
		sub.Status = models.SubscriptionActive
		if !sub.CurrentPeriodEnd.IsZero() {
			next := sub.CurrentPeriodEnd
			sub.NextBillingDate = &next
		}
		sub.UpdatedAt = now
		if err := s.subscriptions.Update(ctx, sub); err != nil {
			return err
		}
		return s.projector.ProjectReactivate(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("subscription reactivated", "subscription_id", updated.ID, "user_id", updated.UserID)
	return updated, nil
}

func (s *subscriptionService) load(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.subscriptions.GetByUserAndID(ctx, userID, subscriptionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, common.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("load subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

// mutate re-reads the row under lock so a concurrent webhook cannot interleave,
// applies fn and drops the cached copy.
func (s *subscriptionService) mutate(ctx context.Context, sub *models.Subscription, fn func(context.Context, *models.Subscription) error) (*models.Subscription, error) {
	var locked *models.Subscription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		locked, err = s.subscriptions.LockByGatewayID(ctx, sub.Gateway, sub.GatewaySubscriptionID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return common.ErrSubscriptionNotFound
			}
			return err
		}
		return fn(ctx, locked)
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.DeleteSubscription(ctx, locked.ID); err != nil {
		s.logger.Warn("failed to invalidate cached subscription", "subscription_id", locked.ID, "error", err)
	}
	return locked, nil
}

func (s *subscriptionService) gatewayFor(sub *models.Subscription) (Gateway, error) {
	gw, ok := s.gateways[sub.Gateway]
	if !ok {
		return nil, common.ConfigurationError(fmt.Sprintf("payment gateway %s is not configured", sub.Gateway))
	}
	return gw, nil
}
