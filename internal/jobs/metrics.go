// Package jobmetrics instruments background jobs run by the asynq worker.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "schoolledger"

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs       *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	lastOK     *prometheus.GaugeVec
	mismatches *prometheus.CounterVec
}

var (
	sharedOnce sync.Once
	shared     *Metrics
)

// NewMetrics registers job collectors on reg. A nil reg falls back to a
// process-wide instance on the default registerer, registered once.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	sharedOnce.Do(func() { shared = register(prometheus.DefaultRegisterer) })
	return shared
}

func register(reg prometheus.Registerer) *Metrics {
	byJob := []string{"job"}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job runs by job and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failures_total",
			Help:      "Failed job runs.",
		}, byJob),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of job runs.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900},
		}, byJob),
		lastOK: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per job.",
		}, byJob),
		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gl_integrity_mismatches_total",
			Help:      "Discrepancies found by the general ledger integrity check, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.lastOK, m.mismatches)
	return m
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the run outcome and returns err unchanged, so handlers can
// `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t != nil && t.m != nil && t.job != "" {
		t.m.record(t.job, time.Since(t.start), err)
	}
	return err
}

func (m *Metrics) record(job string, elapsed time.Duration, err error) {
	m.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, "failure").Inc()
		m.failures.WithLabelValues(job).Inc()
		return
	}
	m.runs.WithLabelValues(job, "success").Inc()
	m.lastOK.WithLabelValues(job).SetToCurrentTime()
}

// AddMismatches counts general ledger discrepancies of the given kind.
func (m *Metrics) AddMismatches(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.mismatches.WithLabelValues(kind).Add(float64(count))
}
