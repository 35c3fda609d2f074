package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"billingsync/internal/models"
	"billingsync/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

type SubscriptionRepository interface {
	Create(ctx context.Context, subscription *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByUserAndID(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error)
	GetByGatewayID(ctx context.Context, gateway models.Gateway, gatewaySubscriptionID string) (*models.Subscription, error)
	// LockByGatewayID is GetByGatewayID with a row lock held until the surrounding transaction ends.
	LockByGatewayID(ctx context.Context, gateway models.Gateway, gatewaySubscriptionID string) (*models.Subscription, error)
	Update(ctx context.Context, subscription *models.Subscription) error
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
}

type subscriptionRepo struct {
	db database.DBTX
}

func NewSubscriptionRepo(db database.DBTX) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, gateway, gateway_subscription_id, gateway_customer_id, plan_type, billing_interval, status, current_period_start, current_period_end, cancel_at_period_end, cancelled_at, cancel_reason, amount, currency, next_billing_date, failed_payment_count, last_failed_payment_at, last_billing_date, payment_method, created_at, updated_at`

func (r *subscriptionRepo) Create(ctx context.Context, subscription *models.Subscription) error {
	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}
	now := time.Now().UTC()
	subscription.CreatedAt = now
	subscription.UpdatedAt = now

	paymentMethod, err := marshalPaymentMethod(subscription.PaymentMethod)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`
	_, err = database.Executor(ctx, r.db).Exec(ctx, query,
		subscription.ID, subscription.UserID, string(subscription.Gateway), subscription.GatewaySubscriptionID,
		subscription.GatewayCustomerID, subscription.PlanType, subscription.BillingInterval, string(subscription.Status),
		subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd, subscription.CancelAtPeriodEnd, subscription.CancelledAt,
		subscription.CancelReason, subscription.Amount, subscription.Currency, subscription.NextBillingDate,
		subscription.FailedPaymentCount, subscription.LastFailedPaymentAt, subscription.LastBillingDate, paymentMethod,
		subscription.CreatedAt, subscription.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`
	return scanSubscription(database.Executor(ctx, r.db).QueryRow(ctx, query, id))
}

func (r *subscriptionRepo) GetByUserAndID(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 AND user_id = $2`
	return scanSubscription(database.Executor(ctx, r.db).QueryRow(ctx, query, id, userID))
}

func (r *subscriptionRepo) GetByGatewayID(ctx context.Context, gateway models.Gateway, gatewaySubscriptionID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE gateway = $1 AND gateway_subscription_id = $2`
	return scanSubscription(database.Executor(ctx, r.db).QueryRow(ctx, query, string(gateway), gatewaySubscriptionID))
}

func (r *subscriptionRepo) LockByGatewayID(ctx context.Context, gateway models.Gateway, gatewaySubscriptionID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE gateway = $1 AND gateway_subscription_id = $2 FOR UPDATE`
	return scanSubscription(database.Executor(ctx, r.db).QueryRow(ctx, query, string(gateway), gatewaySubscriptionID))
}

func (r *subscriptionRepo) Update(ctx context.Context, subscription *models.Subscription) error {
	paymentMethod, err := marshalPaymentMethod(subscription.PaymentMethod)
	if err != nil {
		return err
	}
	subscription.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE subscriptions
		SET gateway_customer_id = $1, status = $2, current_period_start = $3, current_period_end = $4, cancel_at_period_end = $5, cancelled_at = $6, cancel_reason = $7, amount = $8, currency = $9, next_billing_date = $10, failed_payment_count = $11, last_failed_payment_at = $12, last_billing_date = $13, payment_method = $14, updated_at = $15
		WHERE id = $16
	`
	tag, err := database.Executor(ctx, r.db).Exec(ctx, query,
		subscription.GatewayCustomerID, string(subscription.Status), subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd,
		subscription.CancelAtPeriodEnd, subscription.CancelledAt, subscription.CancelReason, subscription.Amount,
		subscription.Currency, subscription.NextBillingDate, subscription.FailedPaymentCount, subscription.LastFailedPaymentAt,
		subscription.LastBillingDate, paymentMethod, subscription.UpdatedAt, subscription.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListLapsed returns subscriptions scheduled to cancel whose paid period has ended
// but which the provider has not yet closed.
func (r *subscriptionRepo) ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE cancel_at_period_end = TRUE AND current_period_end < $1 AND status <> 'expired'
		ORDER BY current_period_end
		LIMIT $2
	`
	rows, err := database.Executor(ctx, r.db).Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed subscriptions: %w", err)
	}
	defer rows.Close()

	var subscriptions []*models.Subscription
	for rows.Next() {
		subscription, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, rows.Err()
}

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var (
		s               models.Subscription
		gateway, status string
		paymentMethod   []byte
	)
	err := row.Scan(
		&s.ID, &s.UserID, &gateway, &s.GatewaySubscriptionID, &s.GatewayCustomerID, &s.PlanType, &s.BillingInterval, &status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd, &s.CancelledAt, &s.CancelReason, &s.Amount,
		&s.Currency, &s.NextBillingDate, &s.FailedPaymentCount, &s.LastFailedPaymentAt, &s.LastBillingDate, &paymentMethod,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	s.Gateway = models.Gateway(gateway)
	s.Status = models.SubscriptionStatus(status)

	if len(paymentMethod) > 0 {
		var pm models.PaymentMethod
		if err := json.Unmarshal(paymentMethod, &pm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment_method: %w", err)
		}
		s.PaymentMethod = &pm
	}
	return &s, nil
}

func marshalPaymentMethod(pm *models.PaymentMethod) ([]byte, error) {
	if pm == nil {
		return nil, nil
	}
	b, err := json.Marshal(pm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment_method: %w", err)
	}
	return b, nil
}
