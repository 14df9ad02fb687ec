package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digkill/cineweave/internal/models"
)

// LedgerRepository only ever inserts; credit_ledger rows are never updated or deleted.
type LedgerRepository struct {
	q Querier
}

func NewLedgerRepository(q Querier) *LedgerRepository {
	return &LedgerRepository{q: q}
}

const ledgerColumns = `id, user_id, job_id, payment_id, amount, balance_after, type, description, created_at`

func (r *LedgerRepository) Append(ctx context.Context, entry *models.LedgerEntry) error {
	const query = `
INSERT INTO credit_ledger (id, user_id, job_id, payment_id, amount, balance_after, type, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, entry.ID, entry.UserID, nullString(entry.JobID), nullString(entry.PaymentID),
		entry.Amount, entry.BalanceAfter, entry.Type, entry.Description, entry.Timestamp)
	if err != nil {
		return insertErr("ledger entry", err)
	}
	return nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	// seq breaks ties between entries written in the same millisecond.
	const query = `SELECT ` + ledgerColumns + ` FROM credit_ledger WHERE user_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`
	return r.list(ctx, query, userID, clampLimit(limit))
}

func (r *LedgerRepository) ListByJob(ctx context.Context, jobID string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + ledgerColumns + ` FROM credit_ledger WHERE job_id = ? ORDER BY seq ASC`
	return r.list(ctx, query, jobID)
}

func (r *LedgerRepository) Sum(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM credit_ledger WHERE user_id = ?`
	var sum int
	if err := r.q.QueryRowContext(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return sum, nil
}

func (r *LedgerRepository) list(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e              models.LedgerEntry
			jobID, payment sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &jobID, &payment, &e.Amount, &e.BalanceAfter, &e.Type, &e.Description, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.JobID = stringPtr(jobID)
		e.PaymentID = stringPtr(payment)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
