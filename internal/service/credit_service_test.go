package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/cineweave/internal/models"
)

func TestReserveDecrementsAndRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|reserve")

	entry, err := env.credits.Reserve(ctx, user.ID, 3, "job-1", "Video generation (15s)")
	require.NoError(t, err)
	assert.Equal(t, -3, entry.Amount)
	assert.Equal(t, 77, entry.BalanceAfter)
	assert.Equal(t, models.EntryTypeGeneration, entry.Type)
	require.NotNil(t, entry.JobID)
	assert.Equal(t, "job-1", *entry.JobID)

	assert.Equal(t, 77, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestReserveRejectsOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|overdraw")

	_, err := env.credits.Reserve(ctx, user.ID, 81, "job-1", "too much")
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 80, env.balance(t, user.ID))

	history, err := env.credits.History(ctx, user.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	env.requireReconciled(t, user.ID)
}

func TestCreditOperationsValidateInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|validate")

	_, err := env.credits.Reserve(ctx, user.ID, 0, "job-1", "zero")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.credits.Refund(ctx, user.ID, -1, "job-1", "negative")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.credits.Credit(ctx, user.ID, 0, nil, models.EntryTypePurchase, "zero")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = env.credits.Reserve(ctx, user.ID, 1, "", "no job")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.credits.Credit(ctx, user.ID, 5, nil, models.EntryTypeRefund, "wrong type")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.credits.Reserve(ctx, "missing", 1, "job-1", "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 80, env.balance(t, user.ID))
}

func TestRefundOncePerJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|refund")

	_, err := env.credits.Reserve(ctx, user.ID, 2, "job-1", "Video generation (10s)")
	require.NoError(t, err)

	entry, err := env.credits.Refund(ctx, user.ID, 2, "job-1", "GPU timeout")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Amount)
	assert.Equal(t, 80, entry.BalanceAfter)
	assert.Equal(t, "Refund: GPU timeout", entry.Description)

	_, err = env.credits.Refund(ctx, user.ID, 2, "job-1", "again")
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 80, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestCreditAddsPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|credit")
	paymentID := "pay-1"

	entry, err := env.credits.Credit(ctx, user.ID, 100, &paymentID, models.EntryTypePurchase, "Credit purchase (100 credits)")
	require.NoError(t, err)
	assert.Equal(t, 180, entry.BalanceAfter)
	require.NotNil(t, entry.PaymentID)
	assert.Equal(t, paymentID, *entry.PaymentID)
	env.requireReconciled(t, user.ID)
}

func TestGetBalanceIncludesPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.plans.Seed(ctx)
	require.NoError(t, err)
	user := env.newUser(t, "auth|balance")

	b, err := env.credits.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, b.Credits)
	assert.Equal(t, "starter", b.Plan)
	require.NotNil(t, b.PlanDetails)
	assert.Equal(t, 1000, b.PlanDetails.Price)

	_, err = env.credits.GetBalance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|history")

	for i := 0; i < 3; i++ {
		_, err := env.credits.Reserve(ctx, user.ID, 1, "job-h", "step")
		require.NoError(t, err)
	}

	history, err := env.credits.History(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 77, history[0].BalanceAfter)
	assert.Equal(t, 78, history[1].BalanceAfter)

	all, err := env.credits.History(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, models.EntryTypeSubscription, all[3].Type)
	assert.Equal(t, "Welcome credits - Starter plan", all[3].Description)
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|race")

	const workers = 60
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.credits.Reserve(ctx, user.ID, 2, "job-race", "Video generation (10s)")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrInsufficientBalance):
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, succeeded)
	assert.Equal(t, 20, rejected)
	assert.Equal(t, 0, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestReconcileDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|drift")

	rec, err := env.credits.Reconcile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, rec.Balance)
	assert.Equal(t, 80, rec.LedgerSum)

	require.NoError(t, env.store.Users().UpdateCredits(ctx, user.ID, 95))

	rec, err = env.credits.Reconcile(ctx, user.ID)
	require.ErrorIs(t, err, ErrLedgerMismatch)
	assert.Equal(t, 95, rec.Balance)
	assert.Equal(t, 80, rec.LedgerSum)
}
