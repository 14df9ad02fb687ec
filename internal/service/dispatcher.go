package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/cineweave/internal/models"
)

// Runner is the external video runner. SubmitJob returns the runner's
// correlation id for the job.
type Runner interface {
	SubmitJob(ctx context.Context, job *models.Job) (string, error)
	FetchStatus(ctx context.Context, runnerRef string) (*RunnerEvent, error)
}

// Runner callback statuses.
const (
	RunnerStatusInQueue    = "IN_QUEUE"
	RunnerStatusInProgress = "IN_PROGRESS"
	RunnerStatusCompleted  = "COMPLETED"
	RunnerStatusFailed     = "FAILED"
	RunnerStatusCancelled  = "CANCELLED"
	RunnerStatusTimedOut   = "TIMED_OUT"
)

type RunnerEvent struct {
	ID          string
	Status      string
	ArtifactRef string
	Error       string
}

type EventOutcome string

const (
	EventApplied   EventOutcome = "applied"
	EventIgnored   EventOutcome = "ignored"
	EventDuplicate EventOutcome = "duplicate"
)

const DefaultMaxConcurrentJobs = 5

type Dispatcher struct {
	jobs      *JobService
	runner    Runner
	log       *slog.Logger
	maxActive int
}

func NewDispatcher(jobs *JobService, runner Runner, log *slog.Logger, maxActive int) *Dispatcher {
	if maxActive <= 0 {
		maxActive = DefaultMaxConcurrentJobs
	}
	return &Dispatcher{jobs: jobs, runner: runner, log: log, maxActive: maxActive}
}

// Submit creates the job, reserving its credits, and hands it to the runner.
// If the runner rejects it the job fails and its credits come back.
func (d *Dispatcher) Submit(ctx context.Context, in CreateJobInput) (*models.Job, error) {
	if !models.ValidDuration(in.DurationSec) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDuration, in.DurationSec)
	}
	// counted under the user lock so concurrent submits cannot overshoot
	in.MaxActive = d.maxActive
	job, err := d.jobs.Create(ctx, in)
	if err != nil {
		return nil, err
	}

	runnerRef, submitErr := d.runner.SubmitJob(ctx, job)
	if submitErr != nil {
		d.log.Error("runner submission failed", "job_id", job.ID, "err", submitErr)
		msg := "Runner submission failed: " + submitErr.Error()
		// the caller may already be gone; the refund must still land
		if _, err := d.jobs.Transition(context.WithoutCancel(ctx), TransitionInput{
			JobID:        job.ID,
			Status:       models.JobStatusFailed,
			ErrorMessage: &msg,
		}); err != nil {
			d.log.Error("failed to fail job after submission error", "job_id", job.ID, "err", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRunnerUnavailable, submitErr)
	}

	// the runner owns the job now; record its ref even if the caller left
	return d.jobs.Transition(context.WithoutCancel(ctx), TransitionInput{
		JobID:     job.ID,
		Status:    models.JobStatusRunning,
		RunnerRef: &runnerRef,
	})
}

// HandleRunnerEvent applies a runner callback. Unknown references and
// repeated deliveries are acknowledged without error.
func (d *Dispatcher) HandleRunnerEvent(ctx context.Context, ev RunnerEvent) (EventOutcome, error) {
	if ev.ID == "" {
		return "", fmt.Errorf("%w: runner event without id", ErrInvalidInput)
	}
	job, err := d.jobs.GetByRunnerRef(ctx, ev.ID)
	if err != nil {
		return "", err
	}
	if job == nil {
		d.log.Warn("runner event for unknown job", "runner_ref", ev.ID, "status", ev.Status)
		return EventIgnored, nil
	}

	in := TransitionInput{JobID: job.ID}
	switch strings.ToUpper(ev.Status) {
	case RunnerStatusCompleted:
		if ev.ArtifactRef == "" {
			msg := "Missing video output"
			in.Status, in.ErrorMessage = models.JobStatusFailed, &msg
		} else {
			artifact := ev.ArtifactRef
			in.Status, in.ArtifactRef = models.JobStatusDone, &artifact
			if job.Status == models.JobStatusQueued {
				if outcome, err := d.apply(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusRunning}); err != nil || outcome != EventApplied {
					return outcome, err
				}
			}
		}
	case RunnerStatusFailed, RunnerStatusCancelled, RunnerStatusTimedOut:
		msg := ev.Error
		if msg == "" {
			msg = "Unknown error"
		}
		in.Status, in.ErrorMessage = models.JobStatusFailed, &msg
	case RunnerStatusInProgress:
		if job.Status != models.JobStatusQueued {
			return EventIgnored, nil
		}
		in.Status = models.JobStatusRunning
	default:
		return EventIgnored, nil
	}
	return d.apply(ctx, in)
}

// Refresh polls the runner for a job whose callback may have been lost and
// applies the answer as if it had been delivered.
func (d *Dispatcher) Refresh(ctx context.Context, jobID string) (EventOutcome, error) {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status.IsTerminal() {
		return EventDuplicate, nil
	}
	if job.RunnerRef == nil {
		return "", fmt.Errorf("%w: job %s has not reached the runner", ErrConflict, jobID)
	}
	ev, err := d.runner.FetchStatus(ctx, *job.RunnerRef)
	if err != nil {
		return "", fmt.Errorf("refresh job: %w", err)
	}
	return d.HandleRunnerEvent(ctx, *ev)
}

func (d *Dispatcher) apply(ctx context.Context, in TransitionInput) (EventOutcome, error) {
	if _, err := d.jobs.Transition(ctx, in); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			d.log.Info("runner event already applied", "job_id", in.JobID, "status", in.Status)
			return EventDuplicate, nil
		}
		return "", err
	}
	return EventApplied, nil
}
