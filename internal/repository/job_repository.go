package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/cineweave/internal/models"
)

type JobRepository struct {
	q Querier
}

func NewJobRepository(q Querier) *JobRepository {
	return &JobRepository{q: q}
}

const jobColumns = `id, user_id, prompt, image_url, duration_sec, credits_used, status, runner_ref, artifact_ref,
expires_at, error_message, seed, cfg, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	const query = `
INSERT INTO jobs (id, user_id, prompt, image_url, duration_sec, credits_used, status, runner_ref, artifact_ref,
    expires_at, error_message, seed, cfg, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query,
		job.ID, job.UserID, job.Prompt, nullString(job.ImageURL), job.DurationSec, job.CreditsUsed, job.Status,
		nullString(job.RunnerRef), nullString(job.ArtifactRef), nullTime(job), nullString(job.ErrorMessage),
		nullInt64(job.Seed), nullFloat64(job.Cfg), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return insertErr("job", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

func (r *JobRepository) GetByIDForUpdate(ctx context.Context, id string) (*models.Job, error) {
	return r.scanOne(r.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ? FOR UPDATE`, id))
}

func (r *JobRepository) GetByRunnerRef(ctx context.Context, runnerRef string) (*models.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE runner_ref = ? LIMIT 1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, runnerRef))
}

// Update persists the mutable columns. credits_used, user_id and created_at never change.
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	const query = `
UPDATE jobs SET status = ?, runner_ref = ?, artifact_ref = ?, expires_at = ?, error_message = ?, updated_at = ?
WHERE id = ?`
	_, err := r.q.ExecContext(ctx, query, job.Status, nullString(job.RunnerRef), nullString(job.ArtifactRef),
		nullTime(job), nullString(job.ErrorMessage), job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	const query = `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.q.QueryContext(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job list: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) CountActive(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM jobs WHERE user_id = ? AND status IN (?, ?)`
	var count int
	if err := r.q.QueryRowContext(ctx, query, userID, models.JobStatusQueued, models.JobStatusRunning).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

func (r *JobRepository) scanOne(row *sql.Row) (*models.Job, error) {
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func scanJob(s rowScanner) (*models.Job, error) {
	var (
		job                                    models.Job
		imageURL, runnerRef, artifact, errText sql.NullString
		expiresAt                              sql.NullTime
		seed                                   sql.NullInt64
		cfg                                    sql.NullFloat64
	)
	if err := s.Scan(&job.ID, &job.UserID, &job.Prompt, &imageURL, &job.DurationSec, &job.CreditsUsed, &job.Status,
		&runnerRef, &artifact, &expiresAt, &errText, &seed, &cfg, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}
	job.ImageURL = stringPtr(imageURL)
	job.RunnerRef = stringPtr(runnerRef)
	job.ArtifactRef = stringPtr(artifact)
	job.ErrorMessage = stringPtr(errText)
	if expiresAt.Valid {
		t := expiresAt.Time
		job.ExpiresAt = &t
	}
	if seed.Valid {
		v := seed.Int64
		job.Seed = &v
	}
	if cfg.Valid {
		v := cfg.Float64
		job.Cfg = &v
	}
	return &job, nil
}

func nullTime(job *models.Job) sql.NullTime {
	if job.ExpiresAt == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *job.ExpiresAt, Valid: true}
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloat64(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
