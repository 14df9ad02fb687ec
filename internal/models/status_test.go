package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobStatusTransitions(t *testing.T) {
	all := []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusDone, JobStatusFailed}
	legal := map[[2]JobStatus]bool{
		{JobStatusQueued, JobStatusRunning}: true,
		{JobStatusQueued, JobStatusFailed}:  true,
		{JobStatusRunning, JobStatusDone}:   true,
		{JobStatusRunning, JobStatusFailed}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]JobStatus{from, to}], from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestJobStatusClassification(t *testing.T) {
	assert.True(t, JobStatusQueued.IsActive())
	assert.True(t, JobStatusRunning.IsActive())
	assert.True(t, JobStatusDone.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatus("paused").IsValid())
}

func TestPaymentStatusTransitions(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusCompleted))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPending))
	assert.False(t, PaymentStatusCompleted.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusCompleted))
}

func TestDurations(t *testing.T) {
	for _, d := range []int{5, 10, 15} {
		assert.True(t, ValidDuration(d))
	}
	for _, d := range []int{0, 1, 7, 20, -5} {
		assert.False(t, ValidDuration(d))
	}
	assert.Equal(t, 2, CreditsForDuration(10))
	assert.Equal(t, 3, CreditsForDuration(15))
}

func TestJobExpired(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := &Job{}
	assert.False(t, job.Expired(now))

	exp := now.Add(time.Hour)
	job.ExpiresAt = &exp
	assert.False(t, job.Expired(now))
	assert.True(t, job.Expired(exp))
}
