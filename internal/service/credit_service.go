package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/digkill/cineweave/internal/metrics"
	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository"
)

const (
	defaultHistoryLimit = 50
	// MaxDescriptionRunes bounds ledger descriptions; job errors can be arbitrarily long.
	MaxDescriptionRunes = 500
)

// CreditService owns user balances. Every balance change is written together
// with its ledger entry inside one transaction holding the user row lock.
type CreditService struct {
	store   repository.Store
	log     *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

type Balance struct {
	Credits     int          `json:"credits"`
	Plan        string       `json:"plan"`
	PlanDetails *models.Plan `json:"planDetails"`
}

type Reconciliation struct {
	Balance          int  `json:"balance"`
	LedgerSum        int  `json:"ledgerSum"`
	LastBalanceAfter *int `json:"lastBalanceAfter"`
}

func NewCreditService(store repository.Store, log *slog.Logger, m *metrics.Recorder) *CreditService {
	return &CreditService{
		store:   store,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *CreditService) Reserve(ctx context.Context, userID string, amount int, jobID string, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.reserveTx(ctx, tx, userID, amount, jobID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CreditsReserved(amount)
	return entry, nil
}

func (s *CreditService) Refund(ctx context.Context, userID string, amount int, jobID string, reason string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.refundTx(ctx, tx, userID, amount, jobID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CreditsRefunded(amount)
	return entry, nil
}

// Credit adds purchased or granted credits. paymentID may be nil.
func (s *CreditService) Credit(ctx context.Context, userID string, amount int, paymentID *string, entryType models.EntryType, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.creditTx(ctx, tx, userID, amount, paymentID, entryType, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CreditsGranted(entryType, amount)
	return entry, nil
}

func (s *CreditService) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	plan, err := s.store.Plans().GetByName(ctx, user.Plan)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &Balance{Credits: user.Credits, Plan: user.Plan, PlanDetails: plan}, nil
}

// History returns the newest ledger entries first.
func (s *CreditService) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := s.store.Ledger().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("credit history: %w", err)
	}
	return entries, nil
}

// Reconcile compares the stored balance against the ledger.
func (s *CreditService) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	var rec Reconciliation
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.Users().GetByIDForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		rec.Balance = user.Credits
		if rec.LedgerSum, err = tx.Ledger().Sum(ctx, userID); err != nil {
			return err
		}
		last, err := tx.Ledger().ListByUser(ctx, userID, 1)
		if err != nil {
			return err
		}
		if len(last) > 0 {
			v := last[0].BalanceAfter
			rec.LastBalanceAfter = &v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rec.LedgerSum != rec.Balance || (rec.LastBalanceAfter != nil && *rec.LastBalanceAfter != rec.Balance) ||
		(rec.LastBalanceAfter == nil && rec.Balance != 0) {
		s.log.Error("ledger mismatch", "user_id", userID, "balance", rec.Balance, "ledger_sum", rec.LedgerSum)
		return &rec, fmt.Errorf("%w: user %s", ErrLedgerMismatch, userID)
	}
	return &rec, nil
}

func (s *CreditService) reserveTx(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: reserve %d", ErrInvalidAmount, amount)
	}
	if jobID == "" {
		return nil, fmt.Errorf("%w: generation entry requires a job", ErrInvalidInput)
	}
	return s.apply(ctx, tx, userID, -amount, models.LedgerEntry{
		JobID:       &jobID,
		Type:        models.EntryTypeGeneration,
		Description: description,
	})
}

// refundTx refuses a second refund for the same job.
func (s *CreditService) refundTx(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: refund %d", ErrInvalidAmount, amount)
	}
	if jobID == "" {
		return nil, fmt.Errorf("%w: refund requires a job", ErrInvalidInput)
	}
	if _, err := s.lockUser(ctx, tx, userID); err != nil {
		return nil, err
	}
	prior, err := tx.Ledger().ListByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job ledger: %w", err)
	}
	for _, e := range prior {
		if e.Type == models.EntryTypeRefund {
			return nil, fmt.Errorf("%w: job %s already refunded", ErrConflict, jobID)
		}
	}
	return s.apply(ctx, tx, userID, amount, models.LedgerEntry{
		JobID:       &jobID,
		Type:        models.EntryTypeRefund,
		Description: "Refund: " + reason,
	})
}

func (s *CreditService) creditTx(ctx context.Context, tx repository.Tx, userID string, amount int, paymentID *string, entryType models.EntryType, description string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: credit %d", ErrInvalidAmount, amount)
	}
	if entryType != models.EntryTypePurchase && entryType != models.EntryTypeSubscription {
		return nil, fmt.Errorf("%w: entry type %q cannot add credits", ErrInvalidInput, entryType)
	}
	return s.apply(ctx, tx, userID, amount, models.LedgerEntry{
		PaymentID:   paymentID,
		Type:        entryType,
		Description: description,
	})
}

func (s *CreditService) lockUser(ctx context.Context, tx repository.Tx, userID string) (*models.User, error) {
	user, err := tx.Users().GetByIDForUpdate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return user, nil
}

// apply moves the balance by delta and appends the matching entry.
func (s *CreditService) apply(ctx context.Context, tx repository.Tx, userID string, delta int, entry models.LedgerEntry) (*models.LedgerEntry, error) {
	user, err := s.lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	balance := user.Credits + delta
	if balance < 0 {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, -delta, user.Credits)
	}
	if err := tx.Users().UpdateCredits(ctx, userID, balance); err != nil {
		return nil, err
	}

	entry.ID = uuid.NewString()
	entry.UserID = userID
	entry.Amount = delta
	entry.BalanceAfter = balance
	entry.Description = clipDescription(entry.Description)
	entry.Timestamp = s.now()
	if err := tx.Ledger().Append(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func clipDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionRunes {
		return s
	}
	r := []rune(s)
	return string(r[:MaxDescriptionRunes-1]) + "…"
}
