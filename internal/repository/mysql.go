package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrLockWait       = 1205
	mysqlErrDeadlock       = 1213

	maxTxAttempts = 3
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// MySQLStore implements Store over a MySQL connection pool.
type MySQLStore struct {
	db *sql.DB
	repos
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, repos: newRepos(db)}
}

// WithTx runs fn in a transaction. Deadlocks and lock wait timeouts restart
// the whole unit of work; any other error is returned as is.
func (s *MySQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}

func (s *MySQLStore) runTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(newRepos(sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type repos struct {
	users    *UserRepository
	jobs     *JobRepository
	ledger   *LedgerRepository
	payments *PaymentRepository
	plans    *PlanRepository
}

func newRepos(q Querier) repos {
	return repos{
		users:    NewUserRepository(q),
		jobs:     NewJobRepository(q),
		ledger:   NewLedgerRepository(q),
		payments: NewPaymentRepository(q),
		plans:    NewPlanRepository(q),
	}
}

func (r repos) Users() UserStore       { return r.users }
func (r repos) Jobs() JobStore         { return r.jobs }
func (r repos) Ledger() LedgerStore    { return r.ledger }
func (r repos) Payments() PaymentStore { return r.payments }
func (r repos) Plans() PlanStore       { return r.plans }

func mysqlErrorNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}

func isDuplicate(err error) bool {
	return mysqlErrorNumber(err) == mysqlErrDuplicateEntry
}

func isRetryable(err error) bool {
	switch mysqlErrorNumber(err) {
	case mysqlErrDeadlock, mysqlErrLockWait:
		return true
	}
	return false
}

// insertErr maps unique violations to ErrDuplicate, keeping the driver error in the chain.
func insertErr(what string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("insert %s: %w: %w", what, ErrDuplicate, err)
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 500 {
		return 500
	}
	return limit
}
