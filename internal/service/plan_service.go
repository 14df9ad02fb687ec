package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository"
)

const (
	DefaultPlanName       = "starter"
	defaultWelcomeCredits = 80
)

// DefaultPlans is the catalog written by Seed. Prices are in minor units.
var DefaultPlans = []models.Plan{
	{
		Name:           "starter",
		MonthlyCredits: 80,
		Price:          1000,
		Markup:         85,
		Features: []string{
			"80 credits/month",
			"~6-7 minutes of video",
			"720p @ 24fps",
			"24-hour video access",
			"Email support",
		},
		IsActive: true,
	},
	{
		Name:           "creator",
		MonthlyCredits: 250,
		Price:          3100,
		Markup:         75,
		Features: []string{
			"250 credits/month",
			"~20 minutes of video",
			"720p @ 24fps",
			"24-hour video access",
			"Priority queue",
			"Email support",
		},
		IsActive: true,
	},
	{
		Name:           "studio",
		MonthlyCredits: 500,
		Price:          6000,
		Markup:         70,
		Features: []string{
			"500 credits/month",
			"~40 minutes of video",
			"720p @ 24fps",
			"24-hour video access",
			"Priority queue",
			"Dedicated support",
			"API access (coming soon)",
		},
		IsActive: true,
	},
}

type PlanService struct {
	store repository.Store
	log   *slog.Logger
}

type SeedResult struct {
	Seeded  bool   `json:"seeded"`
	Message string `json:"message"`
}

func NewPlanService(store repository.Store, log *slog.Logger) *PlanService {
	return &PlanService{store: store, log: log}
}

// Seed writes the default catalog unless any plan already exists.
func (s *PlanService) Seed(ctx context.Context) (*SeedResult, error) {
	already := &SeedResult{Seeded: false, Message: "Plans already seeded"}
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		count, err := tx.Plans().Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return errPlansPresent
		}
		for i := range DefaultPlans {
			plan := DefaultPlans[i]
			plan.Features = append([]string(nil), plan.Features...)
			if err := tx.Plans().Create(ctx, &plan); err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case errors.Is(err, errPlansPresent), errors.Is(err, repository.ErrDuplicate):
		return already, nil
	case err != nil:
		return nil, fmt.Errorf("seed plans: %w", err)
	}
	s.log.Info("plans seeded", "count", len(DefaultPlans))
	return &SeedResult{Seeded: true, Message: "Plans seeded successfully"}, nil
}

var errPlansPresent = errors.New("plans present")

func (s *PlanService) List(ctx context.Context) ([]models.Plan, error) {
	plans, err := s.store.Plans().ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// Get returns nil, nil for an unknown plan.
func (s *PlanService) Get(ctx context.Context, name string) (*models.Plan, error) {
	plan, err := s.store.Plans().GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

// PriceDisplay renders minor units as a two-decimal amount, e.g. 1000 -> "10.00".
func PriceDisplay(minorUnits int) string {
	return decimal.New(int64(minorUnits), -2).StringFixed(2)
}
