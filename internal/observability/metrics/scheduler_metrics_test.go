package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: JobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: JobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: JobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: JobReasonUniqueViolation,
		},
		{
			name: "provider",
			err:  ledgerdomain.ErrProviderUnavailable,
			want: JobReasonProvider,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: JobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSchedulerMetricsRecorded(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry)

	metrics.IncJobRun("rollover")
	metrics.IncJobRun("rollover")
	metrics.AddBatchProcessed("rollover", 5)
	metrics.IncJobError("invoice", &pgconn.PgError{Code: "55P03"})
	metrics.ObserveJobDuration("rollover", 120*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}

	runs := byName["billing_scheduler_job_runs_total"]
	if runs == nil || len(runs.Metric) != 1 {
		t.Fatalf("expected one job_runs series, got %v", runs)
	}
	if got := runs.Metric[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected 2 runs, got %v", got)
	}

	processed := byName["billing_scheduler_batch_processed_total"]
	if processed == nil || processed.Metric[0].GetCounter().GetValue() != 5 {
		t.Fatalf("expected processed count 5, got %v", processed)
	}

	jobErrors := byName["billing_scheduler_job_errors_total"]
	if jobErrors == nil || len(jobErrors.Metric) != 1 {
		t.Fatalf("expected one job_errors series, got %v", jobErrors)
	}
	var reason string
	for _, label := range jobErrors.Metric[0].GetLabel() {
		if label.GetName() == "reason" {
			reason = label.GetValue()
		}
	}
	if reason != JobReasonDBLockTimeout {
		t.Fatalf("expected reason %q, got %q", JobReasonDBLockTimeout, reason)
	}
}
