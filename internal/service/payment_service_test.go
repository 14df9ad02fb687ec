package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/cineweave/internal/models"
)

func TestPaymentCreate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|payer")

	payment, err := env.payments.Create(ctx, user.ID, "txn-001", 1000, 100)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)
	assert.Equal(t, fixedNow, payment.Timestamp)

	_, err = env.payments.Create(ctx, user.ID, "txn-001", 1000, 100)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.payments.Create(ctx, "ghost", "txn-002", 1000, 100)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.payments.Create(ctx, user.ID, " ", 1000, 100)
	assert.ErrorIs(t, err, ErrInvalidInput)

	found, err := env.payments.GetByExternalID(ctx, "txn-001")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, payment.ID, found.ID)

	none, err := env.payments.GetByExternalID(ctx, "txn-404")
	require.NoError(t, err)
	assert.Nil(t, none)

	// pending payments do not move the balance
	assert.Equal(t, 80, env.balance(t, user.ID))
}

func TestPaymentCompletionCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|buyer")

	payment, err := env.payments.Create(ctx, user.ID, "txn-100", 1000, 100)
	require.NoError(t, err)

	updated, err := env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, updated.Status)
	assert.Equal(t, 180, env.balance(t, user.ID))

	history, err := env.credits.History(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.EntryTypePurchase, history[0].Type)
	assert.Equal(t, "Credit purchase (100 credits)", history[0].Description)
	require.NotNil(t, history[0].PaymentID)
	assert.Equal(t, payment.ID, *history[0].PaymentID)
	assert.Equal(t, []string{payment.ID}, env.notifier.completed)

	_, err = env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusCompleted)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusFailed)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 180, env.balance(t, user.ID))
	env.requireReconciled(t, user.ID)
}

func TestPaymentFailureLeavesBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|declined")

	payment, err := env.payments.Create(ctx, user.ID, "txn-200", 3100, 250)
	require.NoError(t, err)

	updated, err := env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, updated.Status)
	assert.Equal(t, 80, env.balance(t, user.ID))

	_, err = env.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = env.payments.UpdateStatus(ctx, "missing", models.PaymentStatusCompleted)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.payments.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentListNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.newUser(t, "auth|list")

	for _, txn := range []string{"a", "b", "c"} {
		_, err := env.payments.Create(ctx, user.ID, txn, 100, 10)
		require.NoError(t, err)
	}
	payments, err := env.payments.ListForUser(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, "c", payments[0].ExternalTxnID)
	assert.Equal(t, "b", payments[1].ExternalTxnID)
}
