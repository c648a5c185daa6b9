package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonProvider             = "provider"
	JobReasonUnknown              = "unknown"
)

// SchedulerMetrics captures worker loop health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "billing_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency to keep billing sweeps within their window.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_scheduler_job_timeouts_total",
		Help: "Scheduler jobs that hit their per-run deadline.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_scheduler_job_errors_total",
		Help: "Scheduler job errors by low-cardinality reason.",
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_scheduler_batch_processed_total",
		Help: "Scheduler batch items processed by job.",
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_scheduler_runloop_lag_seconds",
		Help:    "Scheduler run loop lag beyond the configured interval.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	for _, collector := range []prometheus.Collector{
		jobRuns, jobDuration, jobTimeouts, jobErrors, batchProcessed,
	} {
		registerer.MustRegister(collector)
	}
	registerer.MustRegister(runLoopLag.(prometheus.Collector))

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
		runLoopLag:     runLoopLag,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for a scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with
// classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || m.jobErrors == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter by count.
func (m *SchedulerMetrics) AddBatchProcessed(job string, count int) {
	if m == nil || m.batchProcessed == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(count))
}

// ObserveRunLoopLag records lag between the scheduled tick and the
// actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// ClassifyJobReason maps a job error to a low-cardinality reason label.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	if errors.Is(err, ledgerdomain.ErrProviderUnavailable) ||
		errors.Is(err, ledgerdomain.ErrProviderRejected) {
		return JobReasonProvider
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.EqualFold(pgErr.Code, code)
	}
	return false
}
