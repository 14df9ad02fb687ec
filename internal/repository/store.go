package repository

import (
	"context"
	"errors"

	"github.com/digkill/cineweave/internal/models"
)

// ErrDuplicate is returned when an insert violates a unique key.
var ErrDuplicate = errors.New("duplicate key")

// Point lookups return (nil, nil) when the row does not exist.
// The *ForUpdate variants lock the row until the surrounding transaction ends.

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	UpdateCredits(ctx context.Context, id string, credits int) error
	UpdatePlan(ctx context.Context, id string, plan string) error
}

type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Job, error)
	GetByRunnerRef(ctx context.Context, runnerRef string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Job, error)
	CountActive(ctx context.Context, userID string) (int, error)
}

type LedgerStore interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	ListByJob(ctx context.Context, jobID string) ([]models.LedgerEntry, error)
	Sum(ctx context.Context, userID string) (int, error)
}

type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id string) (*models.Payment, error)
	GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error)
	GetByExternalID(ctx context.Context, externalTxnID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, payment *models.Payment) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Payment, error)
}

type PlanStore interface {
	Create(ctx context.Context, plan *models.Plan) error
	Count(ctx context.Context) (int, error)
	ListActive(ctx context.Context) ([]models.Plan, error)
	GetByName(ctx context.Context, name string) (*models.Plan, error)
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Users() UserStore
	Jobs() JobStore
	Ledger() LedgerStore
	Payments() PaymentStore
	Plans() PlanStore
}

// Store is the persistence root. Its own repositories run outside any
// transaction; WithTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
