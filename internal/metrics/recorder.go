package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/digkill/cineweave/internal/models"
)

// Recorder holds the credit core's Prometheus collectors. A nil Recorder, or
// one built without a registerer, records nothing.
type Recorder struct {
	reserved    prometheus.Counter
	refunded    prometheus.Counter
	granted     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	payments    *prometheus.CounterVec
	requests    *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	r := &Recorder{
		reserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cineweave_credits_reserved_total",
			Help: "Credits reserved for generation jobs.",
		}),
		refunded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cineweave_credits_refunded_total",
			Help: "Credits returned for failed jobs.",
		}),
		granted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cineweave_credits_granted_total",
			Help: "Credits added by purchases and subscriptions.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cineweave_job_transitions_total",
			Help: "Jobs entering each status.",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cineweave_payments_total",
			Help: "Payments entering each status.",
		}, []string{"status"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cineweave_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
	reg.MustRegister(r.reserved, r.refunded, r.granted, r.transitions, r.payments, r.requests)
	return r
}

func (r *Recorder) CreditsReserved(n int) {
	if r == nil || r.reserved == nil {
		return
	}
	r.reserved.Add(float64(n))
}

func (r *Recorder) CreditsRefunded(n int) {
	if r == nil || r.refunded == nil {
		return
	}
	r.refunded.Add(float64(n))
}

func (r *Recorder) CreditsGranted(t models.EntryType, n int) {
	if r == nil || r.granted == nil {
		return
	}
	r.granted.WithLabelValues(normalizeLabel(string(t))).Add(float64(n))
}

func (r *Recorder) JobTransition(s models.JobStatus) {
	if r == nil || r.transitions == nil {
		return
	}
	r.transitions.WithLabelValues(normalizeLabel(string(s))).Inc()
}

func (r *Recorder) PaymentStatus(s models.PaymentStatus) {
	if r == nil || r.payments == nil {
		return
	}
	r.payments.WithLabelValues(normalizeLabel(string(s))).Inc()
}

func (r *Recorder) ObserveRequest(route string, code int, d time.Duration) {
	if r == nil || r.requests == nil {
		return
	}
	r.requests.WithLabelValues(normalizeLabel(route), strconv.Itoa(code)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
