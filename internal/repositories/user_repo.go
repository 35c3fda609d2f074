package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"billingsync/internal/models"
	"billingsync/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository reads user accounts and writes the membership and billing
// projections. Accounts themselves are owned by the identity system.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateMembership(ctx context.Context, id uuid.UUID, membership *models.Membership) error
	UpdateBilling(ctx context.Context, id uuid.UUID, billing *models.BillingSummary) error
}

type userRepo struct {
	db database.DBTX
}

func NewUserRepo(db database.DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var (
		user                models.User
		membership, billing []byte
	)
	query := `SELECT id, email, membership, billing, created_at, updated_at FROM users WHERE id = $1`
	err := database.Executor(ctx, r.db).QueryRow(ctx, query, id).
		Scan(&user.ID, &user.Email, &membership, &billing, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if len(membership) > 0 {
		user.Membership = &models.Membership{}
		if err := json.Unmarshal(membership, user.Membership); err != nil {
			return nil, fmt.Errorf("failed to unmarshal membership: %w", err)
		}
	}
	if len(billing) > 0 {
		user.Billing = &models.BillingSummary{}
		if err := json.Unmarshal(billing, user.Billing); err != nil {
			return nil, fmt.Errorf("failed to unmarshal billing: %w", err)
		}
	}
	return &user, nil
}

func (r *userRepo) UpdateMembership(ctx context.Context, id uuid.UUID, membership *models.Membership) error {
	return r.updateJSON(ctx, `UPDATE users SET membership = $1, updated_at = NOW() WHERE id = $2`, id, membership)
}

func (r *userRepo) UpdateBilling(ctx context.Context, id uuid.UUID, billing *models.BillingSummary) error {
	return r.updateJSON(ctx, `UPDATE users SET billing = $1, updated_at = NOW() WHERE id = $2`, id, billing)
}

func (r *userRepo) updateJSON(ctx context.Context, query string, id uuid.UUID, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal user projection: %w", err)
	}
	tag, err := database.Executor(ctx, r.db).Exec(ctx, query, b, id)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
