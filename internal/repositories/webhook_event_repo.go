package repositories

import (
	"context"
	"fmt"

	"billingsync/internal/models"
	"billingsync/pkg/database"
)

type WebhookEventRepository interface {
	// Record stores the event in the ledger. It reports false when the
	// (gateway, event id) pair was already recorded.
	Record(ctx context.Context, event *models.WebhookEvent) (bool, error)
}

type webhookEventRepo struct {
	db database.DBTX
}

func NewWebhookEventRepo(db database.DBTX) WebhookEventRepository {
	return &webhookEventRepo{db: db}
}

func (r *webhookEventRepo) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (gateway, event_id, event_type, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (gateway, event_id) DO NOTHING
	`
	tag, err := database.Executor(ctx, r.db).Exec(ctx, query, string(event.Gateway), event.EventID, event.EventType, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event %s: %w", event.EventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
