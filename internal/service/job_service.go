package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/cineweave/internal/metrics"
	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository"
)

const (
	// ArtifactTTL is how long a finished video stays downloadable.
	ArtifactTTL = 24 * time.Hour
	DefaultCfg  = 7.5

	defaultJobListLimit   = 20
	defaultRecentJobLimit = 5
)

// Notifier receives lifecycle events after they are committed.
type Notifier interface {
	JobFailed(ctx context.Context, job *models.Job)
	PaymentCompleted(ctx context.Context, payment *models.Payment)
}

type JobService struct {
	store    repository.Store
	credits  *CreditService
	log      *slog.Logger
	metrics  *metrics.Recorder
	notifier Notifier
	now      func() time.Time
}

type CreateJobInput struct {
	UserID      string
	Prompt      string
	ImageURL    *string
	DurationSec int
	Seed        *int64
	Cfg         *float64
	// MaxActive caps the user's queued and running jobs when positive.
	MaxActive int
}

type TransitionInput struct {
	JobID        string
	Status       models.JobStatus
	RunnerRef    *string
	ArtifactRef  *string
	ErrorMessage *string
}

func NewJobService(store repository.Store, credits *CreditService, log *slog.Logger, m *metrics.Recorder, notifier Notifier) *JobService {
	return &JobService{
		store:    store,
		credits:  credits,
		log:      log,
		metrics:  m,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create reserves the job's credits and records it as queued in one transaction.
func (s *JobService) Create(ctx context.Context, in CreateJobInput) (*models.Job, error) {
	if !models.ValidDuration(in.DurationSec) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDuration, in.DurationSec)
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}

	cfg := DefaultCfg
	if in.Cfg != nil {
		cfg = *in.Cfg
	}
	now := s.now()
	job := &models.Job{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Prompt:      in.Prompt,
		ImageURL:    in.ImageURL,
		DurationSec: in.DurationSec,
		CreditsUsed: models.CreditsForDuration(in.DurationSec),
		Status:      models.JobStatusQueued,
		Seed:        in.Seed,
		Cfg:         &cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.credits.lockUser(ctx, tx, in.UserID); err != nil {
			return err
		}
		if in.MaxActive > 0 {
			active, err := tx.Jobs().CountActive(ctx, in.UserID)
			if err != nil {
				return err
			}
			if active >= in.MaxActive {
				return fmt.Errorf("%w: %d of %d in flight", ErrTooManyActiveJobs, active, in.MaxActive)
			}
		}
		if err := tx.Jobs().Create(ctx, job); err != nil {
			return err
		}
		description := fmt.Sprintf("Video generation (%ds)", in.DurationSec)
		_, err := s.credits.reserveTx(ctx, tx, in.UserID, job.CreditsUsed, job.ID, description)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CreditsReserved(job.CreditsUsed)
	s.metrics.JobTransition(models.JobStatusQueued)
	s.log.Info("job created", "job_id", job.ID, "user_id", job.UserID, "credits", job.CreditsUsed)
	return job, nil
}

// Transition moves a job forward. A move to failed refunds the reserved
// credits in the same transaction; a move to done starts the artifact window.
func (s *JobService) Transition(ctx context.Context, in TransitionInput) (*models.Job, error) {
	if !in.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, in.Status)
	}

	var (
		job      *models.Job
		refunded bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.Jobs().GetByIDForUpdate(ctx, in.JobID)
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if current == nil {
			return fmt.Errorf("%w: job %s", ErrNotFound, in.JobID)
		}
		if !current.Status.CanTransitionTo(in.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, in.Status)
		}

		now := s.now()
		current.Status = in.Status
		current.UpdatedAt = now
		if in.RunnerRef != nil {
			current.RunnerRef = in.RunnerRef
		}
		if in.ArtifactRef != nil {
			current.ArtifactRef = in.ArtifactRef
		}
		if in.ErrorMessage != nil {
			current.ErrorMessage = in.ErrorMessage
		}

		switch in.Status {
		case models.JobStatusDone:
			expires := now.Add(ArtifactTTL)
			current.ExpiresAt = &expires
		case models.JobStatusFailed:
			reason := "Job failed"
			if current.ErrorMessage != nil && *current.ErrorMessage != "" {
				reason = *current.ErrorMessage
			}
			if _, err := s.credits.refundTx(ctx, tx, current.UserID, current.CreditsUsed, current.ID, reason); err != nil {
				return err
			}
			refunded = true
		}

		if err := tx.Jobs().Update(ctx, current); err != nil {
			return err
		}
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.JobTransition(job.Status)
	if refunded {
		s.metrics.CreditsRefunded(job.CreditsUsed)
		if s.notifier != nil {
			s.notifier.JobFailed(ctx, job)
		}
	}
	s.log.Info("job transitioned", "job_id", job.ID, "status", job.Status)
	return job, nil
}

func (s *JobService) Get(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.Jobs().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, id)
	}
	return job, nil
}

// GetByRunnerRef returns nil, nil when no job carries the reference.
func (s *JobService) GetByRunnerRef(ctx context.Context, runnerRef string) (*models.Job, error) {
	job, err := s.store.Jobs().GetByRunnerRef(ctx, runnerRef)
	if err != nil {
		return nil, fmt.Errorf("get job by runner ref: %w", err)
	}
	return job, nil
}

func (s *JobService) ListForUser(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = defaultJobListLimit
	}
	return s.list(ctx, userID, limit)
}

func (s *JobService) RecentForUser(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = defaultRecentJobLimit
	}
	return s.list(ctx, userID, limit)
}

func (s *JobService) CountActive(ctx context.Context, userID string) (int, error) {
	n, err := s.store.Jobs().CountActive(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return n, nil
}

func (s *JobService) list(ctx context.Context, userID string, limit int) ([]models.Job, error) {
	jobs, err := s.store.Jobs().ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}
