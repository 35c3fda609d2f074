package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billingsync/internal/models"
	"billingsync/internal/repositories"
)

// MembershipProjector keeps users.membership and users.billing in step with
// the owning Subscription. The projection is advisory: a missing user is
// logged and skipped, never an error.
type MembershipProjector struct {
	users  repositories.UserRepository
	logger *slog.Logger
}

func NewMembershipProjector(users repositories.UserRepository, logger *slog.Logger) *MembershipProjector {
	return &MembershipProjector{users: users, logger: logger}
}

// ProjectUpdate mirrors a provider-driven subscription change.
func (p *MembershipProjector) ProjectUpdate(ctx context.Context, sub *models.Subscription, now time.Time) error {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return err
	}

	m := mirrorMembership(sub)
	if sub.Status.Grants() {
		m.Status = models.MembershipActive
		if sub.CancelAtPeriodEnd {
			m.CancelledAt = sub.CancelledAt
		}
	} else {
		m.Status = models.MembershipCancelled
		m.CancelledAt = stampCancelledAt(user.Membership, sub, now)
	}
	return p.saveMembership(ctx, sub, m)
}

// ProjectDeletion marks the membership expired once the provider ends the subscription.
func (p *MembershipProjector) ProjectDeletion(ctx context.Context, sub *models.Subscription, now time.Time) error {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return err
	}

	m := mirrorMembership(sub)
	m.Status = models.MembershipExpired
	m.CancelledAt = stampCancelledAt(user.Membership, sub, now)
	return p.saveMembership(ctx, sub, m)
}

// ProjectPaymentSuccess refreshes the billing summary.
func (p *MembershipProjector) ProjectPaymentSuccess(ctx context.Context, sub *models.Subscription, payment *models.Payment) error {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return err
	}

	billing := &models.BillingSummary{}
	if user.Billing != nil {
		*billing = *user.Billing
	}
	if sub.GatewayCustomerID != "" {
		billing.CustomerID = sub.GatewayCustomerID
	}

	paidAt := payment.InitiatedAt
	if payment.CompletedAt != nil {
		paidAt = *payment.CompletedAt
	}
	billing.LastPayment = &models.PaymentSummary{
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		PaidAt:          paidAt,
		PaymentIntentID: payment.PaymentIntentID,
	}

	billing.NextPayment = nil
	if sub.NextBillingDate != nil && !sub.CancelAtPeriodEnd {
		billing.NextPayment = &models.UpcomingPayment{
			Amount:   sub.Amount,
			Currency: sub.Currency,
			DueAt:    *sub.NextBillingDate,
		}
	}

	if err := p.users.UpdateBilling(ctx, sub.UserID, billing); err != nil {
		return fmt.Errorf("update billing for user %s: %w", sub.UserID, err)
	}
	return nil
}

// ProjectPaymentFailure pauses the membership.
func (p *MembershipProjector) ProjectPaymentFailure(ctx context.Context, sub *models.Subscription) error {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return err
	}

	m := mirrorMembership(sub)
	if user.Membership != nil {
		m.CancelledAt = user.Membership.CancelledAt
	}
	m.Status = models.MembershipPaused
	return p.saveMembership(ctx, sub, m)
}

// ProjectCancel records a cancellation scheduled for period end. Access
// continues, so the membership stays active.
func (p *MembershipProjector) ProjectCancel(ctx context.Context, sub *models.Subscription) error {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return err
	}

	m := mirrorMembership(sub)
	m.Status = models.MembershipActive
	m.CancelAtPeriodEnd = true
	m.CancelledAt = sub.CancelledAt
	return p.saveMembership(ctx, sub, m)
}

func (p *MembershipProjector) ProjectReactivate(ctx context.Context, sub *models.Subscription) error {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return err
	}

	m := mirrorMembership(sub)
	m.Status = models.MembershipActive
	m.CancelAtPeriodEnd = false
	m.CancelledAt = nil
	return p.saveMembership(ctx, sub, m)
}

// ExpireLapsed moves an active membership to expired once the period of a
// subscription cancelled at period end has passed. It reports whether the
// membership changed.
func (p *MembershipProjector) ExpireLapsed(ctx context.Context, sub *models.Subscription) (bool, error) {
	user, err := p.loadUser(ctx, sub)
	if user == nil || err != nil {
		return false, err
	}

	m := user.Membership
	if m == nil || m.Status != models.MembershipActive || m.SubscriptionID != sub.ID.String() {
		return false, nil
	}

	expired := *m
	expired.Status = models.MembershipExpired
	if err := p.saveMembership(ctx, sub, &expired); err != nil {
		return false, err
	}
	return true, nil
}

// loadUser returns nil, nil when the owner does not exist.
func (p *MembershipProjector) loadUser(ctx context.Context, sub *models.Subscription) (*models.User, error) {
	user, err := p.users.GetByID(ctx, sub.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			p.logger.Warn("membership owner not found, skipping projection",
				"user_id", sub.UserID,
				"subscription_id", sub.ID,
			)
			return nil, nil
		}
		return nil, fmt.Errorf("load user %s: %w", sub.UserID, err)
	}
	return user, nil
}

func (p *MembershipProjector) saveMembership(ctx context.Context, sub *models.Subscription, m *models.Membership) error {
	if err := p.users.UpdateMembership(ctx, sub.UserID, m); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			p.logger.Warn("membership owner disappeared before update", "user_id", sub.UserID)
			return nil
		}
		return fmt.Errorf("update membership for user %s: %w", sub.UserID, err)
	}
	return nil
}

func mirrorMembership(sub *models.Subscription) *models.Membership {
	m := &models.Membership{
		Type:              sub.PlanType,
		BillingInterval:   sub.BillingInterval,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		SubscriptionID:    sub.ID.String(),
		PaymentGateway:    string(sub.Gateway),
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		m.CurrentPeriodEnd = &end
	}
	return m
}

// stampCancelledAt keeps the first cancellation time across repeated events.
func stampCancelledAt(prev *models.Membership, sub *models.Subscription, now time.Time) *time.Time {
	if prev != nil && prev.CancelledAt != nil &&
		(prev.Status == models.MembershipCancelled || prev.Status == models.MembershipExpired) {
		return prev.CancelledAt
	}
	if sub.CancelledAt != nil {
		return sub.CancelledAt
	}
	return &now
}
