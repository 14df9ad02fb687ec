package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/cineweave/internal/models"
)

type PaymentRepository struct {
	q Querier
}

func NewPaymentRepository(q Querier) *PaymentRepository {
	return &PaymentRepository{q: q}
}

const paymentColumns = `id, user_id, external_txn_id, amount, credits_added, status, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (id, user_id, external_txn_id, amount, credits_added, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, payment.ID, payment.UserID, payment.ExternalTxnID, payment.Amount,
		payment.CreditsAdded, payment.Status, payment.Timestamp, payment.UpdatedAt)
	if err != nil {
		return insertErr("payment", err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
}

func (r *PaymentRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ? FOR UPDATE`, id))
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalTxnID string) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE external_txn_id = ? LIMIT 1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, externalTxnID))
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, payment *models.Payment) error {
	const query = `UPDATE payments SET status = ?, updated_at = ? WHERE id = ?`
	if _, err := r.q.ExecContext(ctx, query, payment.Status, payment.UpdatedAt, payment.ID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.q.QueryContext(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.ExternalTxnID, &p.Amount, &p.CreditsAdded, &p.Status, &p.Timestamp, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan payment list: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *PaymentRepository) scanOne(row *sql.Row) (*models.Payment, error) {
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.ExternalTxnID, &p.Amount, &p.CreditsAdded, &p.Status, &p.Timestamp, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
