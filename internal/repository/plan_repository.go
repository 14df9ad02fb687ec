package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/cineweave/internal/models"
)

type PlanRepository struct {
	q Querier
}

func NewPlanRepository(q Querier) *PlanRepository {
	return &PlanRepository{q: q}
}

const planColumns = `name, monthly_credits, price, markup, features, is_active`

func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	features, err := json.Marshal(plan.Features)
	if err != nil {
		return fmt.Errorf("encode plan features: %w", err)
	}
	const query = `
INSERT INTO plans (name, monthly_credits, price, markup, features, is_active)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := r.q.ExecContext(ctx, query, plan.Name, plan.MonthlyCredits, plan.Price, plan.Markup, string(features), plan.IsActive); err != nil {
		return insertErr("plan", err)
	}
	return nil
}

func (r *PlanRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM plans`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count plans: %w", err)
	}
	return count, nil
}

func (r *PlanRepository) ListActive(ctx context.Context) ([]models.Plan, error) {
	const query = `SELECT ` + planColumns + ` FROM plans WHERE is_active = 1 ORDER BY price ASC, name ASC`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByName(ctx context.Context, name string) (*models.Plan, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE name = ?`, name)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return plan, nil
}

func scanPlan(s rowScanner) (*models.Plan, error) {
	var (
		plan     models.Plan
		features string
	)
	if err := s.Scan(&plan.Name, &plan.MonthlyCredits, &plan.Price, &plan.Markup, &features, &plan.IsActive); err != nil {
		return nil, err
	}
	if features != "" {
		if err := json.Unmarshal([]byte(features), &plan.Features); err != nil {
			return nil, fmt.Errorf("decode plan features: %w", err)
		}
	}
	return &plan, nil
}
