package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository"
	"github.com/digkill/cineweave/internal/repository/memory"
)

var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store      *memory.Store
	credits    *CreditService
	jobs       *JobService
	plans      *PlanService
	payments   *PaymentService
	users      *UserService
	dispatcher *Dispatcher
	runner     *fakeRunner
	notifier   *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	return buildEnv(store, store)
}

// buildEnv wires services on top of svcStore; raw stays reachable for
// assertions that must bypass a wrapped store.
func buildEnv(raw *memory.Store, svcStore repository.Store) *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return fixedNow }

	credits := NewCreditService(svcStore, log, nil)
	credits.now = clock
	notifier := &fakeNotifier{}
	jobs := NewJobService(svcStore, credits, log, nil, notifier)
	jobs.now = clock
	payments := NewPaymentService(svcStore, credits, log, nil, notifier)
	payments.now = clock
	users := NewUserService(svcStore, credits, log, nil)
	users.now = clock
	runner := &fakeRunner{}

	return &testEnv{
		store:      raw,
		credits:    credits,
		jobs:       jobs,
		plans:      NewPlanService(svcStore, log),
		payments:   payments,
		users:      users,
		dispatcher: NewDispatcher(jobs, runner, log, DefaultMaxConcurrentJobs),
		runner:     runner,
		notifier:   notifier,
	}
}

func (e *testEnv) newUser(t *testing.T, externalID string) *models.User {
	t.Helper()
	user, created, err := e.users.GetOrCreate(context.Background(), externalID, externalID+"@example.com")
	require.NoError(t, err)
	require.True(t, created)
	return user
}

func (e *testEnv) balance(t *testing.T, userID string) int {
	t.Helper()
	b, err := e.credits.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.Credits
}

func (e *testEnv) requireReconciled(t *testing.T, userID string) {
	t.Helper()
	_, err := e.credits.Reconcile(context.Background(), userID)
	require.NoError(t, err)
}

type fakeRunner struct {
	mu       sync.Mutex
	err      error
	calls    int
	statuses map[string]RunnerEvent
}

func (f *fakeRunner) SubmitJob(_ context.Context, job *models.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("run-%d", f.calls), nil
}

func (f *fakeRunner) FetchStatus(_ context.Context, runnerRef string) (*RunnerEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.statuses[runnerRef]
	if !ok {
		return nil, errors.New("runner does not know " + runnerRef)
	}
	return &ev, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	failed    []string
	completed []string
}

func (f *fakeNotifier) JobFailed(_ context.Context, job *models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, job.ID)
}

func (f *fakeNotifier) PaymentCompleted(_ context.Context, payment *models.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, payment.ID)
}

// failingLedgerStore lets every write through except ledger appends made
// inside a transaction.
type failingLedgerStore struct {
	*memory.Store
}

func (s failingLedgerStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx repository.Tx) error {
		return fn(failingLedgerTx{tx})
	})
}

type failingLedgerTx struct {
	repository.Tx
}

func (t failingLedgerTx) Ledger() repository.LedgerStore {
	return failingLedger{t.Tx.Ledger()}
}

type failingLedger struct {
	repository.LedgerStore
}

var errDiskFull = errors.New("disk full")

func (failingLedger) Append(context.Context, *models.LedgerEntry) error {
	return errDiskFull
}
