// Package memory is a map-backed implementation of the repository interfaces.
// WithTx holds the store lock for the whole unit of work and operates on a
// copy of the data, which replaces the live data only when fn succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/digkill/cineweave/internal/models"
	"github.com/digkill/cineweave/internal/repository"
)

type jobRecord struct {
	job models.Job
	seq int64
}

type paymentRecord struct {
	payment models.Payment
	seq     int64
}

type data struct {
	seq        int64
	users      map[string]models.User
	usersByExt map[string]string
	jobs       map[string]jobRecord
	payments   map[string]paymentRecord
	plans      map[string]models.Plan
	ledger     []models.LedgerEntry
}

func newData() *data {
	return &data{
		users:      make(map[string]models.User),
		usersByExt: make(map[string]string),
		jobs:       make(map[string]jobRecord),
		payments:   make(map[string]paymentRecord),
		plans:      make(map[string]models.Plan),
	}
}

func (d *data) clone() *data {
	c := &data{
		seq:        d.seq,
		users:      make(map[string]models.User, len(d.users)),
		usersByExt: make(map[string]string, len(d.usersByExt)),
		jobs:       make(map[string]jobRecord, len(d.jobs)),
		payments:   make(map[string]paymentRecord, len(d.payments)),
		plans:      make(map[string]models.Plan, len(d.plans)),
		ledger:     append([]models.LedgerEntry(nil), d.ledger...),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.usersByExt {
		c.usersByExt[k] = v
	}
	for k, v := range d.jobs {
		c.jobs[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.plans {
		c.plans[k] = v
	}
	return c
}

func (d *data) next() int64 {
	d.seq++
	return d.seq
}

type Store struct {
	mu   sync.Mutex
	data *data
}

func New() *Store {
	return &Store{data: newData()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(view{s: s, tx: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) Users() repository.UserStore       { return view{s: s}.Users() }
func (s *Store) Jobs() repository.JobStore         { return view{s: s}.Jobs() }
func (s *Store) Ledger() repository.LedgerStore    { return view{s: s}.Ledger() }
func (s *Store) Payments() repository.PaymentStore { return view{s: s}.Payments() }
func (s *Store) Plans() repository.PlanStore       { return view{s: s}.Plans() }

// view reads and writes tx when set, otherwise the live data under the store lock.
type view struct {
	s  *Store
	tx *data
}

func (v view) do(fn func(d *data) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.data)
}

func (v view) Users() repository.UserStore       { return users{v} }
func (v view) Jobs() repository.JobStore         { return jobs{v} }
func (v view) Ledger() repository.LedgerStore    { return ledger{v} }
func (v view) Payments() repository.PaymentStore { return payments{v} }
func (v view) Plans() repository.PlanStore       { return plans{v} }

type users struct{ v view }

func (r users) Create(_ context.Context, user *models.User) error {
	return r.v.do(func(d *data) error {
		if _, ok := d.users[user.ID]; ok {
			return fmt.Errorf("insert user: %w", repository.ErrDuplicate)
		}
		if _, ok := d.usersByExt[user.ExternalID]; ok {
			return fmt.Errorf("insert user: %w", repository.ErrDuplicate)
		}
		d.users[user.ID] = *user
		d.usersByExt[user.ExternalID] = user.ID
		return nil
	})
}

func (r users) GetByID(_ context.Context, id string) (*models.User, error) {
	var out *models.User
	err := r.v.do(func(d *data) error {
		if u, ok := d.users[id]; ok {
			out = &u
		}
		return nil
	})
	return out, err
}

func (r users) GetByIDForUpdate(ctx context.Context, id string) (*models.User, error) {
	return r.GetByID(ctx, id)
}

func (r users) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var id string
	_ = r.v.do(func(d *data) error {
		id = d.usersByExt[externalID]
		return nil
	})
	if id == "" {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r users) UpdateCredits(_ context.Context, id string, credits int) error {
	return r.v.do(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return fmt.Errorf("update credits: user %s missing", id)
		}
		u.Credits = credits
		d.users[id] = u
		return nil
	})
}

func (r users) UpdatePlan(_ context.Context, id string, plan string) error {
	return r.v.do(func(d *data) error {
		u, ok := d.users[id]
		if !ok {
			return fmt.Errorf("update plan: user %s missing", id)
		}
		u.Plan = plan
		d.users[id] = u
		return nil
	})
}

type jobs struct{ v view }

func (r jobs) Create(_ context.Context, job *models.Job) error {
	return r.v.do(func(d *data) error {
		if _, ok := d.jobs[job.ID]; ok {
			return fmt.Errorf("insert job: %w", repository.ErrDuplicate)
		}
		if _, ok := d.users[job.UserID]; !ok {
			return fmt.Errorf("insert job: user %s missing", job.UserID)
		}
		d.jobs[job.ID] = jobRecord{job: *job, seq: d.next()}
		return nil
	})
}

func (r jobs) GetByID(_ context.Context, id string) (*models.Job, error) {
	var out *models.Job
	err := r.v.do(func(d *data) error {
		if rec, ok := d.jobs[id]; ok {
			out = &rec.job
		}
		return nil
	})
	return out, err
}

func (r jobs) GetByIDForUpdate(ctx context.Context, id string) (*models.Job, error) {
	return r.GetByID(ctx, id)
}

func (r jobs) GetByRunnerRef(_ context.Context, runnerRef string) (*models.Job, error) {
	var out *models.Job
	err := r.v.do(func(d *data) error {
		for _, rec := range d.jobs {
			if rec.job.RunnerRef != nil && *rec.job.RunnerRef == runnerRef {
				job := rec.job
				out = &job
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r jobs) Update(_ context.Context, job *models.Job) error {
	return r.v.do(func(d *data) error {
		rec, ok := d.jobs[job.ID]
		if !ok {
			return fmt.Errorf("update job: job %s missing", job.ID)
		}
		rec.job.Status = job.Status
		rec.job.RunnerRef = job.RunnerRef
		rec.job.ArtifactRef = job.ArtifactRef
		rec.job.ExpiresAt = job.ExpiresAt
		rec.job.ErrorMessage = job.ErrorMessage
		rec.job.UpdatedAt = job.UpdatedAt
		d.jobs[job.ID] = rec
		return nil
	})
}

func (r jobs) ListByUser(_ context.Context, userID string, limit int) ([]models.Job, error) {
	limit = normLimit(limit)
	var out []models.Job
	err := r.v.do(func(d *data) error {
		var recs []jobRecord
		for _, rec := range d.jobs {
			if rec.job.UserID == userID {
				recs = append(recs, rec)
			}
		}
		sort.Slice(recs, func(i, j int) bool {
			if !recs[i].job.CreatedAt.Equal(recs[j].job.CreatedAt) {
				return recs[i].job.CreatedAt.After(recs[j].job.CreatedAt)
			}
			return recs[i].seq > recs[j].seq
		})
		for _, rec := range recs {
			if len(out) == limit {
				break
			}
			out = append(out, rec.job)
		}
		return nil
	})
	return out, err
}

func (r jobs) CountActive(_ context.Context, userID string) (int, error) {
	count := 0
	err := r.v.do(func(d *data) error {
		for _, rec := range d.jobs {
			if rec.job.UserID == userID && rec.job.Status.IsActive() {
				count++
			}
		}
		return nil
	})
	return count, err
}

type ledger struct{ v view }

func (r ledger) Append(_ context.Context, entry *models.LedgerEntry) error {
	return r.v.do(func(d *data) error {
		if _, ok := d.users[entry.UserID]; !ok {
			return fmt.Errorf("insert ledger entry: user %s missing", entry.UserID)
		}
		for _, e := range d.ledger {
			if e.ID == entry.ID {
				return fmt.Errorf("insert ledger entry: %w", repository.ErrDuplicate)
			}
		}
		d.ledger = append(d.ledger, *entry)
		return nil
	})
}

// ListByUser walks the append-only slice backwards, which is newest first.
func (r ledger) ListByUser(_ context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	limit = normLimit(limit)
	var out []models.LedgerEntry
	err := r.v.do(func(d *data) error {
		for i := len(d.ledger) - 1; i >= 0 && len(out) < limit; i-- {
			if d.ledger[i].UserID == userID {
				out = append(out, d.ledger[i])
			}
		}
		return nil
	})
	return out, err
}

func (r ledger) ListByJob(_ context.Context, jobID string) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	err := r.v.do(func(d *data) error {
		for _, e := range d.ledger {
			if e.JobID != nil && *e.JobID == jobID {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func (r ledger) Sum(_ context.Context, userID string) (int, error) {
	sum := 0
	err := r.v.do(func(d *data) error {
		for _, e := range d.ledger {
			if e.UserID == userID {
				sum += e.Amount
			}
		}
		return nil
	})
	return sum, err
}

type payments struct{ v view }

func (r payments) Create(_ context.Context, payment *models.Payment) error {
	return r.v.do(func(d *data) error {
		for _, rec := range d.payments {
			if rec.payment.ID == payment.ID || rec.payment.ExternalTxnID == payment.ExternalTxnID {
				return fmt.Errorf("insert payment: %w", repository.ErrDuplicate)
			}
		}
		if _, ok := d.users[payment.UserID]; !ok {
			return fmt.Errorf("insert payment: user %s missing", payment.UserID)
		}
		d.payments[payment.ID] = paymentRecord{payment: *payment, seq: d.next()}
		return nil
	})
}

func (r payments) GetByID(_ context.Context, id string) (*models.Payment, error) {
	var out *models.Payment
	err := r.v.do(func(d *data) error {
		if rec, ok := d.payments[id]; ok {
			out = &rec.payment
		}
		return nil
	})
	return out, err
}

func (r payments) GetByIDForUpdate(ctx context.Context, id string) (*models.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r payments) GetByExternalID(_ context.Context, externalTxnID string) (*models.Payment, error) {
	var out *models.Payment
	err := r.v.do(func(d *data) error {
		for _, rec := range d.payments {
			if rec.payment.ExternalTxnID == externalTxnID {
				p := rec.payment
				out = &p
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r payments) UpdateStatus(_ context.Context, payment *models.Payment) error {
	return r.v.do(func(d *data) error {
		rec, ok := d.payments[payment.ID]
		if !ok {
			return fmt.Errorf("update payment status: payment %s missing", payment.ID)
		}
		rec.payment.Status = payment.Status
		rec.payment.UpdatedAt = payment.UpdatedAt
		d.payments[payment.ID] = rec
		return nil
	})
}

func (r payments) ListByUser(_ context.Context, userID string, limit int) ([]models.Payment, error) {
	limit = normLimit(limit)
	var out []models.Payment
	err := r.v.do(func(d *data) error {
		var recs []paymentRecord
		for _, rec := range d.payments {
			if rec.payment.UserID == userID {
				recs = append(recs, rec)
			}
		}
		sort.Slice(recs, func(i, j int) bool {
			if !recs[i].payment.Timestamp.Equal(recs[j].payment.Timestamp) {
				return recs[i].payment.Timestamp.After(recs[j].payment.Timestamp)
			}
			return recs[i].seq > recs[j].seq
		})
		for _, rec := range recs {
			if len(out) == limit {
				break
			}
			out = append(out, rec.payment)
		}
		return nil
	})
	return out, err
}

type plans struct{ v view }

func (r plans) Create(_ context.Context, plan *models.Plan) error {
	return r.v.do(func(d *data) error {
		if _, ok := d.plans[plan.Name]; ok {
			return fmt.Errorf("insert plan: %w", repository.ErrDuplicate)
		}
		p := *plan
		p.Features = append([]string(nil), plan.Features...)
		d.plans[plan.Name] = p
		return nil
	})
}

func (r plans) Count(_ context.Context) (int, error) {
	n := 0
	err := r.v.do(func(d *data) error {
		n = len(d.plans)
		return nil
	})
	return n, err
}

func (r plans) ListActive(_ context.Context) ([]models.Plan, error) {
	var out []models.Plan
	err := r.v.do(func(d *data) error {
		for _, p := range d.plans {
			if p.IsActive {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		return out[i].Name < out[j].Name
	})
	return out, err
}

func (r plans) GetByName(_ context.Context, name string) (*models.Plan, error) {
	var out *models.Plan
	err := r.v.do(func(d *data) error {
		if p, ok := d.plans[name]; ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func normLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}
