package repositories

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"billingsync/internal/models"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookEventRepo_Record(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		err      error
		want     bool
		wantErr  bool
	}{
		{name: "first delivery", affected: 1, want: true},
		{name: "duplicate delivery", affected: 0, want: false},
		{name: "database error", err: errors.New("deadlock detected"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			receivedAt := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
			exp := mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (gateway, event_id) DO NOTHING")).
				WithArgs("stripe", "evt_1", "invoice.payment_failed", receivedAt)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))
			}

			recorded, err := NewWebhookEventRepo(mock).Record(context.Background(), &models.WebhookEvent{
				Gateway:    models.GatewayStripe,
				EventID:    "evt_1",
				EventType:  "invoice.payment_failed",
				ReceivedAt: receivedAt,
			})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, recorded)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
