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

type UserService struct {
	store   repository.Store
	credits *CreditService
	log     *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time
}

func NewUserService(store repository.Store, credits *CreditService, log *slog.Logger, m *metrics.Recorder) *UserService {
	return &UserService{
		store:   store,
		credits: credits,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the account for externalID, creating it on the starter
// plan with its welcome grant on first sight. The bool reports creation.
func (s *UserService) GetOrCreate(ctx context.Context, externalID, email string) (*models.User, bool, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, false, fmt.Errorf("%w: external id is required", ErrInvalidInput)
	}

	existing, err := s.store.Users().GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, fmt.Errorf("get user: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	grant := defaultWelcomeCredits
	plan, err := s.store.Plans().GetByName(ctx, DefaultPlanName)
	if err != nil {
		return nil, false, fmt.Errorf("get plan: %w", err)
	}
	if plan != nil {
		grant = plan.MonthlyCredits
	}

	user := &models.User{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Email:      email,
		Plan:       DefaultPlanName,
		CreatedAt:  s.now(),
	}
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		if grant <= 0 {
			return nil
		}
		entry, err := s.credits.creditTx(ctx, tx, user.ID, grant, nil, models.EntryTypeSubscription, "Welcome credits - Starter plan")
		if err != nil {
			return err
		}
		user.Credits = entry.BalanceAfter
		return nil
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// lost a concurrent first-login race
		winner, gerr := s.store.Users().GetByExternalID(ctx, externalID)
		if gerr != nil {
			return nil, false, fmt.Errorf("get user: %w", gerr)
		}
		if winner != nil {
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("%w: user %s", ErrConflict, externalID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	if grant > 0 {
		s.metrics.CreditsGranted(models.EntryTypeSubscription, grant)
	}
	s.log.Info("user created", "user_id", user.ID, "external_id", externalID, "credits", user.Credits)
	return user, true, nil
}

// ChangePlan switches the user's plan and optionally grants credits with it.
// The plan must exist in the catalog; an unknown name returns ErrNotFound
// rather than being stored as free text.
func (s *UserService) ChangePlan(ctx context.Context, userID, planName string, creditsToAdd int) (*models.User, error) {
	if creditsToAdd < 0 {
		return nil, fmt.Errorf("%w: credits %d", ErrInvalidAmount, creditsToAdd)
	}
	plan, err := s.store.Plans().GetByName(ctx, planName)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if plan == nil {
		return nil, fmt.Errorf("%w: plan %s", ErrNotFound, planName)
	}

	var user *models.User
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		u, err := s.credits.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Users().UpdatePlan(ctx, userID, plan.Name); err != nil {
			return err
		}
		u.Plan = plan.Name
		if creditsToAdd > 0 {
			entry, err := s.credits.creditTx(ctx, tx, userID, creditsToAdd, nil, models.EntryTypeSubscription, "Plan changed to "+plan.Name)
			if err != nil {
				return err
			}
			u.Credits = entry.BalanceAfter
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if creditsToAdd > 0 {
		s.metrics.CreditsGranted(models.EntryTypeSubscription, creditsToAdd)
	}
	s.log.Info("plan changed", "user_id", userID, "plan", plan.Name, "credits_added", creditsToAdd)
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return user, nil
}

// GetByExternalID returns nil, nil for an unknown subject.
func (s *UserService) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	user, err := s.store.Users().GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}
