package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"billingsync/internal/models"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var paymentColumnNames = []string{
	"id", "user_id", "item_type", "item_id", "payment_intent_id", "invoice_id", "amount", "currency",
	"gateway", "status", "initiated_at", "completed_at", "failed_at", "metadata",
}

func TestPaymentRepo_UpsertKeysOnPaymentIntent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	failedAt := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	payment := &models.Payment{
		UserID:          uuid.New(),
		ItemType:        models.ItemTypeSubscription,
		ItemID:          uuid.New(),
		PaymentIntentID: "pi_1",
		InvoiceID:       "in_1",
		Amount:          1999,
		Currency:        "USD",
		Gateway:         models.GatewayStripe,
		Status:          models.PaymentFailed,
		FailedAt:        &failedAt,
		Metadata:        map[string]string{"attempt": "1"},
	}

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (payment_intent_id) DO UPDATE SET status = CASE WHEN payments.status = 'succeeded' THEN payments.status ELSE EXCLUDED.status END")).
		WithArgs(
			pgxmock.AnyArg(), payment.UserID, "subscription", payment.ItemID, "pi_1", "in_1",
			int64(1999), "USD", "stripe", "failed", pgxmock.AnyArg(),
			(*time.Time)(nil), &failedAt, []byte(`{"attempt":"1"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(context.Background(), payment))
	assert.NotEqual(t, uuid.Nil, payment.ID)
	assert.False(t, payment.InitiatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_GetByPaymentIntentID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPaymentRepo(mock)
	id, userID, itemID := uuid.New(), uuid.New(), uuid.New()
	paidAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE payment_intent_id = $1")).
		WithArgs("pi_1").
		WillReturnRows(pgxmock.NewRows(paymentColumnNames).AddRow(
			id, userID, "subscription", itemID, "pi_1", "in_1", int64(1999), "USD",
			"stripe", "succeeded", paidAt, &paidAt, (*time.Time)(nil), []byte(nil),
		))

	payment, err := repo.GetByPaymentIntentID(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, payment.Status)
	assert.Equal(t, models.GatewayStripe, payment.Gateway)
	require.NotNil(t, payment.CompletedAt)
	assert.Nil(t, payment.FailedAt)
	assert.Nil(t, payment.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepo_GetByPaymentIntentID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE payment_intent_id = $1")).
		WithArgs("pi_missing").
		WillReturnRows(pgxmock.NewRows(paymentColumnNames))

	_, err = NewPaymentRepo(mock).GetByPaymentIntentID(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentRepo_ListByItem(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	itemID, userID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM payments WHERE item_type = $1 AND item_id = $2")).
		WithArgs("subscription", itemID).
		WillReturnRows(pgxmock.NewRows(paymentColumnNames).
			AddRow(uuid.New(), userID, "subscription", itemID, "pi_2", "in_2", int64(1999), "USD",
				"stripe", "failed", now, (*time.Time)(nil), &now, []byte(`{"attempt":"2"}`)).
			AddRow(uuid.New(), userID, "subscription", itemID, "pi_1", "in_1", int64(1999), "USD",
				"stripe", "succeeded", now, &now, (*time.Time)(nil), []byte(nil)))

	payments, err := NewPaymentRepo(mock).ListByItem(context.Background(), models.ItemTypeSubscription, itemID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "2", payments[0].Metadata["attempt"])
	assert.Equal(t, models.PaymentSucceeded, payments[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
