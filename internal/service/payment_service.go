package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/cineweave/internal/metrics"
	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository"
)

const defaultPaymentListLimit = 20

type PaymentService struct {
	store    repository.Store
	credits  *CreditService
	log      *slog.Logger
	metrics  *metrics.Recorder
	notifier Notifier
	now      func() time.Time
}

func NewPaymentService(store repository.Store, credits *CreditService, log *slog.Logger, m *metrics.Recorder, notifier Notifier) *PaymentService {
	return &PaymentService{
		store:    store,
		credits:  credits,
		log:      log,
		metrics:  m,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create records a pending payment. The external transaction id is unique.
func (s *PaymentService) Create(ctx context.Context, userID, externalTxnID string, amount, credits int) (*models.Payment, error) {
	externalTxnID = strings.TrimSpace(externalTxnID)
	if externalTxnID == "" {
		return nil, fmt.Errorf("%w: external transaction id is required", ErrInvalidInput)
	}
	if amount < 0 || credits < 0 {
		return nil, fmt.Errorf("%w: amount %d, credits %d", ErrInvalidAmount, amount, credits)
	}

	now := s.now()
	payment := &models.Payment{
		ID:            uuid.NewString(),
		UserID:        userID,
		ExternalTxnID: externalTxnID,
		Amount:        amount,
		CreditsAdded:  credits,
		Status:        models.PaymentStatusPending,
		Timestamp:     now,
		UpdatedAt:     now,
	}
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		user, err := tx.Users().GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user == nil {
			return fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return tx.Payments().Create(ctx, payment)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("%w: payment %s already recorded", ErrConflict, externalTxnID)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentStatus(payment.Status)
	s.log.Info("payment recorded", "payment_id", payment.ID, "user_id", userID, "txn", externalTxnID)
	return payment, nil
}

// UpdateStatus settles a pending payment. Completing it credits the user's
// balance in the same transaction.
func (s *PaymentService) UpdateStatus(ctx context.Context, paymentID string, status models.PaymentStatus) (*models.Payment, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	var (
		payment  *models.Payment
		credited bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Payments().GetByIDForUpdate(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if current == nil {
			return fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
		}
		if !current.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
		}
		current.Status = status
		current.UpdatedAt = s.now()
		if err := tx.Payments().UpdateStatus(ctx, current); err != nil {
			return err
		}
		if status == models.PaymentStatusCompleted && current.CreditsAdded > 0 {
			description := fmt.Sprintf("Credit purchase (%d credits)", current.CreditsAdded)
			id := current.ID
			if _, err := s.credits.creditTx(ctx, tx, current.UserID, current.CreditsAdded, &id, models.EntryTypePurchase, description); err != nil {
				return err
			}
			credited = true
		}
		payment = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentStatus(payment.Status)
	if credited {
		s.metrics.CreditsGranted(models.EntryTypePurchase, payment.CreditsAdded)
	}
	if payment.Status == models.PaymentStatusCompleted && s.notifier != nil {
		s.notifier.PaymentCompleted(ctx, payment)
	}
	s.log.Info("payment status updated", "payment_id", payment.ID, "status", payment.Status)
	return payment, nil
}

func (s *PaymentService) Get(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.store.Payments().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, id)
	}
	return payment, nil
}

// GetByExternalID returns nil, nil when the transaction is unknown.
func (s *PaymentService) GetByExternalID(ctx context.Context, externalTxnID string) (*models.Payment, error) {
	payment, err := s.store.Payments().GetByExternalID(ctx, externalTxnID)
	if err != nil {
		return nil, fmt.Errorf("get payment by txn: %w", err)
	}
	return payment, nil
}

func (s *PaymentService) ListForUser(ctx context.Context, userID string, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = defaultPaymentListLimit
	}
	payments, err := s.store.Payments().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}
