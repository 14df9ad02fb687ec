package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/cineweave/internal/models"
)

type UserRepository struct {
	q Querier
}

func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

const userColumns = `id, external_id, email, plan, credits, created_at`

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `
INSERT INTO users (id, external_id, email, plan, credits, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.q.ExecContext(ctx, query, user.ID, user.ExternalID, user.Email, user.Plan, user.Credits, user.CreatedAt); err != nil {
		return insertErr("user", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *UserRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id))
}

func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = ?`, externalID))
}

func (r *UserRepository) UpdateCredits(ctx context.Context, id string, credits int) error {
	const query = `UPDATE users SET credits = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, credits, id); err != nil {
		return fmt.Errorf("update credits: %w", err)
	}
	return nil
}

func (r *UserRepository) UpdatePlan(ctx context.Context, id string, plan string) error {
	const query = `UPDATE users SET plan = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, plan, id); err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Plan, &u.Credits, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
