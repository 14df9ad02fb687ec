package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/cineweave/internal/models"
)

func TestRecorderExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := New(reg)

	rec.CreditsReserved(2)
	rec.CreditsReserved(3)
	rec.CreditsRefunded(2)
	rec.CreditsGranted(models.EntryTypePurchase, 100)
	rec.JobTransition(models.JobStatusDone)
	rec.JobTransition(models.JobStatusDone)
	rec.PaymentStatus(models.PaymentStatusCompleted)
	rec.ObserveRequest("/jobs", 201, 150*time.Millisecond)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	assert.Equal(t, 5.0, counterValue(t, mfs, "cineweave_credits_reserved_total", "", ""))
	assert.Equal(t, 2.0, counterValue(t, mfs, "cineweave_credits_refunded_total", "", ""))
	assert.Equal(t, 100.0, counterValue(t, mfs, "cineweave_credits_granted_total", "type", "purchase"))
	assert.Equal(t, 2.0, counterValue(t, mfs, "cineweave_job_transitions_total", "status", "done"))
	assert.Equal(t, 1.0, counterValue(t, mfs, "cineweave_payments_total", "status", "completed"))

	mf := findMetricFamily(mfs, "cineweave_http_request_duration_seconds")
	require.NotNil(t, mf)
	require.Len(t, mf.GetMetric(), 1)
	assert.Equal(t, uint64(1), mf.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.CreditsReserved(1)
		rec.CreditsRefunded(1)
		rec.CreditsGranted(models.EntryTypeSubscription, 1)
		rec.JobTransition(models.JobStatusFailed)
		rec.PaymentStatus(models.PaymentStatusFailed)
		rec.ObserveRequest("", 500, time.Second)
	})

	unregistered := New(nil)
	assert.NotPanics(t, func() { unregistered.CreditsReserved(1) })
}

func counterValue(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	mf := findMetricFamily(mfs, name)
	require.NotNil(t, mf, "metric %q not found", name)
	for _, metric := range mf.GetMetric() {
		if label == "" || matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %q missing label %s=%s", name, label, value)
	return 0
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
