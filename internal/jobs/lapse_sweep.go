package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"billingsync/internal/models"
	"billingsync/pkg/database"

	"github.com/google/uuid"
)

const defaultLapseBatchSize = 500

// LapsedLister finds subscriptions whose paid period ended while they were
// scheduled to cancel.
type LapsedLister interface {
	ListLapsed(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
}

// MembershipExpirer moves a still-active membership to expired.
type MembershipExpirer interface {
	ExpireLapsed(ctx context.Context, sub *models.Subscription) (bool, error)
}

type subscriptionInvalidator interface {
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
}

// LapseSweep closes membership access for subscriptions cancelled at period
// end when the provider's final deletion notice has not arrived yet. The
// subscription row itself is left for that notice to finalize.
type LapseSweep struct {
	subscriptions LapsedLister
	memberships   MembershipExpirer
	tx            database.Transactor
	cache         subscriptionInvalidator
	now           func() time.Time
	batchSize     int
	logger        *slog.Logger
}

func NewLapseSweep(subscriptions LapsedLister, memberships MembershipExpirer, tx database.Transactor,
	cache subscriptionInvalidator, now func() time.Time, logger *slog.Logger) *LapseSweep {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &LapseSweep{
		subscriptions: subscriptions,
		memberships:   memberships,
		tx:            tx,
		cache:         cache,
		now:           now,
		batchSize:     defaultLapseBatchSize,
		logger:        logger,
	}
}

// Run expires every lapsed membership it can and returns how many changed.
// A failure on one subscription does not stop the rest of the batch.
func (s *LapseSweep) Run(ctx context.Context) (int, error) {
	lapsed, err := s.subscriptions.ListLapsed(ctx, s.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("lapse sweep: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, sub := range lapsed {
		var changed bool
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			changed, err = s.memberships.ExpireLapsed(ctx, sub)
			return err
		})
		if err != nil {
			s.logger.Error("failed to expire lapsed membership",
				"subscription_id", sub.ID, "user_id", sub.UserID, "error", err)
			errs = append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			continue
		}
		if !changed {
			continue
		}

		expired++
		if err := s.cache.DeleteSubscription(ctx, sub.ID); err != nil {
			s.logger.Warn("failed to invalidate cached subscription", "subscription_id", sub.ID, "error", err)
		}
	}

	if expired > 0 || len(errs) > 0 {
		s.logger.Info("lapse sweep finished", "candidates", len(lapsed), "expired", expired, "failed", len(errs))
	}
	return expired, errors.Join(errs...)
}
