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

type PaymentRepository interface {
	// Upsert inserts the payment or merges it into the row with the same payment intent.
	// A succeeded payment never moves back to pending or failed.
	Upsert(ctx context.Context, payment *models.Payment) error
	GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error)
	ListByItem(ctx context.Context, itemType string, itemID uuid.UUID) ([]*models.Payment, error)
}

type paymentRepo struct {
	db database.DBTX
}

func NewPaymentRepo(db database.DBTX) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, user_id, item_type, item_id, payment_intent_id, invoice_id, amount, currency, gateway, status, initiated_at, completed_at, failed_at, metadata`

func (r *paymentRepo) Upsert(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	if payment.InitiatedAt.IsZero() {
		payment.InitiatedAt = time.Now().UTC()
	}

	var metadata []byte
	if len(payment.Metadata) > 0 {
		b, err := json.Marshal(payment.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal payment metadata: %w", err)
		}
		metadata = b
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		ON CONFLICT (payment_intent_id) DO UPDATE SET
			status = CASE WHEN payments.status = 'succeeded' THEN payments.status ELSE EXCLUDED.status END,
			invoice_id = COALESCE(NULLIF(EXCLUDED.invoice_id, ''), payments.invoice_id),
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			completed_at = COALESCE(payments.completed_at, EXCLUDED.completed_at),
			failed_at = COALESCE(EXCLUDED.failed_at, payments.failed_at),
			metadata = COALESCE(EXCLUDED.metadata, payments.metadata),
			updated_at = NOW()
	`
	_, err := database.Executor(ctx, r.db).Exec(ctx, query,
		payment.ID, payment.UserID, payment.ItemType, payment.ItemID, payment.PaymentIntentID, payment.InvoiceID,
		payment.Amount, payment.Currency, string(payment.Gateway), string(payment.Status), payment.InitiatedAt,
		payment.CompletedAt, payment.FailedAt, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert payment %s: %w", payment.PaymentIntentID, err)
	}
	return nil
}

func (r *paymentRepo) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_intent_id = $1`
	return scanPayment(database.Executor(ctx, r.db).QueryRow(ctx, query, paymentIntentID))
}

func (r *paymentRepo) ListByItem(ctx context.Context, itemType string, itemID uuid.UUID) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE item_type = $1 AND item_id = $2 ORDER BY initiated_at DESC`
	rows, err := database.Executor(ctx, r.db).Query(ctx, query, itemType, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var (
		p               models.Payment
		gateway, status string
		metadata        []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ItemType, &p.ItemID, &p.PaymentIntentID, &p.InvoiceID, &p.Amount, &p.Currency,
		&gateway, &status, &p.InitiatedAt, &p.CompletedAt, &p.FailedAt, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.Gateway = models.Gateway(gateway)
	p.Status = models.PaymentStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment metadata: %w", err)
		}
	}
	return &p, nil
}
