package service

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository/memory"
)

func strPtr(s string) *string { return &s }

func TestJobHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|happy")

	job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "a fox in the snow", DurationSec: 10})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 2, job.CreditsUsed)
	require.NotNil(t, job.Cfg)
	assert.Equal(t, DefaultCfg, *job.Cfg)
	assert.Equal(t, 78, env.balance(t, user.ID))

	history, err := env.credits.History(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, -2, history[0].Amount)
	assert.Equal(t, 78, history[0].BalanceAfter)
	assert.Equal(t, models.EntryTypeGeneration, history[0].Type)
	require.NotNil(t, history[0].JobID)
	assert.Equal(t, job.ID, *history[0].JobID)

	job, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusRunning, RunnerRef: strPtr("run-abc")})
	require.NoError(t, err)
	assert.Equal(t, "run-abc", *job.RunnerRef)

	job, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusDone, ArtifactRef: strPtr("videos/abc.mp4")})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, job.Status)
	require.NotNil(t, job.ExpiresAt)
	assert.Equal(t, fixedNow.Add(24*time.Hour), *job.ExpiresAt)
	assert.Equal(t, "videos/abc.mp4", *job.ArtifactRef)

	stored, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, stored.Status)
	assert.Equal(t, "run-abc", *stored.RunnerRef)

	assert.Equal(t, 78, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestJobFailureRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|fail")

	job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "waves", DurationSec: 10})
	require.NoError(t, err)
	_, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusRunning})
	require.NoError(t, err)

	job, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusFailed, ErrorMessage: strPtr("GPU OOM")})
	require.NoError(t, err)
	assert.Equal(t, "GPU OOM", *job.ErrorMessage)
	assert.Equal(t, 80, env.balance(t, user.ID))

	history, err := env.credits.History(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.EntryTypeRefund, history[0].Type)
	assert.Equal(t, 2, history[0].Amount)
	assert.Equal(t, 80, history[0].BalanceAfter)
	assert.Equal(t, "Refund: GPU OOM", history[0].Description)

	assert.Equal(t, []string{job.ID}, env.notifier.failed)
	env.requireReconciled(t, user.ID)
}

func TestJobFailureWithLongErrorStillRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|verbose")

	job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "rain", DurationSec: 10})
	require.NoError(t, err)

	msg := "runner error: status=500 body=" + strings.Repeat("ошибка ", 100)
	require.Greater(t, utf8.RuneCountInString(msg), 600)
	job, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusFailed, ErrorMessage: &msg})
	require.NoError(t, err)
	assert.Equal(t, msg, *job.ErrorMessage)
	assert.Equal(t, 80, env.balance(t, user.ID))

	history, err := env.credits.History(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	refund := history[0]
	assert.Equal(t, models.EntryTypeRefund, refund.Type)
	assert.Equal(t, MaxDescriptionRunes, utf8.RuneCountInString(refund.Description))
	assert.True(t, utf8.ValidString(refund.Description))
	assert.True(t, strings.HasPrefix(refund.Description, "Refund: runner error: status=500"))
	assert.True(t, strings.HasSuffix(refund.Description, "…"))
	env.requireReconciled(t, user.ID)
}

func TestJobFailedTwiceRefundsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|twice")

	job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "rain", DurationSec: 15})
	require.NoError(t, err)
	_, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusFailed})
	require.NoError(t, err)

	_, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusFailed})
	require.ErrorIs(t, err, ErrInvalidTransition)

	entries, err := env.store.Ledger().ListByJob(ctx, job.ID)
	require.NoError(t, err)
	refunds := 0
	for _, e := range entries {
		if e.Type == models.EntryTypeRefund {
			refunds++
			assert.Equal(t, "Refund: Job failed", e.Description)
		}
	}
	assert.Equal(t, 1, refunds)
	assert.Equal(t, 80, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestJobTransitionLegality(t *testing.T) {
	all := []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning, models.JobStatusDone, models.JobStatusFailed}
	allowed := map[[2]models.JobStatus]bool{
		{models.JobStatusQueued, models.JobStatusRunning}: true,
		{models.JobStatusQueued, models.JobStatusFailed}:  true,
		{models.JobStatusRunning, models.JobStatusDone}:   true,
		{models.JobStatusRunning, models.JobStatusFailed}: true,
	}
	// path from queued to each starting status
	setup := map[models.JobStatus][]models.JobStatus{
		models.JobStatusQueued:  nil,
		models.JobStatusRunning: {models.JobStatusRunning},
		models.JobStatusDone:    {models.JobStatusRunning, models.JobStatusDone},
		models.JobStatusFailed:  {models.JobStatusFailed},
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(string(from)+"_to_"+string(to), func(t *testing.T) {
				env := newTestEnv(t)
				ctx := context.Background()
				user := env.newUser(t, "auth|grid")
				job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "grid", DurationSec: 5})
				require.NoError(t, err)
				for _, step := range setup[from] {
					_, err := env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: step})
					require.NoError(t, err)
				}

				_, err = env.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: to})
				if allowed[[2]models.JobStatus{from, to}] {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, ErrInvalidTransition)
					stored, gerr := env.jobs.Get(ctx, job.ID)
					require.NoError(t, gerr)
					assert.Equal(t, from, stored.Status)
				}
				env.requireReconciled(t, user.ID)
			})
		}
	}
}

func TestJobCreateInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|broke")

	_, err := env.credits.Reserve(ctx, user.ID, 79, "earlier-job", "Video generation")
	require.NoError(t, err)
	require.Equal(t, 1, env.balance(t, user.ID))

	_, err = env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "too long", DurationSec: 10})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	jobs, err := env.jobs.ListForUser(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, 1, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestJobCreateInvalidDurationChecksFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.jobs.Create(ctx, CreateJobInput{UserID: "no-such-user", Prompt: "x", DurationSec: 7})
	require.ErrorIs(t, err, ErrInvalidDuration)

	user := env.newUser(t, "auth|seven")
	_, err = env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "x", DurationSec: 7})
	require.ErrorIs(t, err, ErrInvalidDuration)
	assert.Equal(t, 80, env.balance(t, user.ID))
}

func TestJobCreateRejectsUnknownUserAndEmptyPrompt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.jobs.Create(ctx, CreateJobInput{UserID: "ghost", Prompt: "x", DurationSec: 5})
	assert.ErrorIs(t, err, ErrNotFound)

	user := env.newUser(t, "auth|blank")
	_, err = env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "   ", DurationSec: 5})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestJobCreateIsAtomic(t *testing.T) {
	raw := memory.New()
	env := buildEnv(raw, raw)
	user := env.newUser(t, "auth|atomic")

	broken := buildEnv(raw, failingLedgerStore{raw})
	_, err := broken.jobs.Create(context.Background(), CreateJobInput{UserID: user.ID, Prompt: "x", DurationSec: 10})
	require.ErrorIs(t, err, errDiskFull)

	jobs, err := env.jobs.ListForUser(context.Background(), user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Equal(t, 80, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestJobFailTransitionIsAtomic(t *testing.T) {
	raw := memory.New()
	env := buildEnv(raw, raw)
	ctx := context.Background()
	user := env.newUser(t, "auth|atomic-fail")
	job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "x", DurationSec: 10})
	require.NoError(t, err)

	broken := buildEnv(raw, failingLedgerStore{raw})
	_, err = broken.jobs.Transition(ctx, TransitionInput{JobID: job.ID, Status: models.JobStatusFailed})
	require.ErrorIs(t, err, errDiskFull)

	stored, err := env.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
	assert.Equal(t, 78, env.balance(t, user.ID))
}

func TestJobListsAndCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|lists")

	var ids []string
	for i := 0; i < 7; i++ {
		job, err := env.jobs.Create(ctx, CreateJobInput{UserID: user.ID, Prompt: "clip", DurationSec: 5})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	_, err := env.jobs.Transition(ctx, TransitionInput{JobID: ids[0], Status: models.JobStatusFailed})
	require.NoError(t, err)

	recent, err := env.jobs.RecentForUser(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, 5)
	assert.Equal(t, ids[6], recent[0].ID)

	all, err := env.jobs.ListForUser(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 7)

	active, err := env.jobs.CountActive(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, active)

	_, err = env.jobs.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	byRef, err := env.jobs.GetByRunnerRef(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, byRef)
}
