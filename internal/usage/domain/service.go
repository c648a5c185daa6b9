package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type RecordUsageRequest struct {
	ResourceType   string     `json:"resource_type"`
	Quantity       int64      `json:"quantity"`
	RecordedAt     *time.Time `json:"recorded_at,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// RecordUsageResult is one entry of a batch response. Batch items are
// independent transactions; one rejected item does not roll back the
// others.
type RecordUsageResult struct {
	Index    int          `json:"index"`
	Accepted bool         `json:"accepted"`
	Record   *UsageRecord `json:"record,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// QuotaStatus answers a pre-flight check against the same rollup the
// write path maintains.
type QuotaStatus struct {
	ResourceType   string `json:"resource_type"`
	Used           int64  `json:"used"`
	Limit          *int64 `json:"limit,omitempty"`
	Remaining      *int64 `json:"remaining,omitempty"`
	Allowed        bool   `json:"allowed"`
	OverageAllowed bool   `json:"overage_allowed"`
}

type ListSummariesRequest struct {
	ResourceType string
	PeriodStart  *time.Time
}

type Service interface {
	Record(ctx context.Context, req RecordUsageRequest) (*UsageRecord, error)
	RecordBatch(ctx context.Context, reqs []RecordUsageRequest) []RecordUsageResult
	CheckQuota(ctx context.Context, resourceType string, quantity int64) (QuotaStatus, error)
	ListSummaries(ctx context.Context, req ListSummariesRequest) ([]UsageSummary, error)

	// RebuildSummary recomputes a period rollup from the raw records,
	// the administrative repair path for a summary suspected of drift.
	RebuildSummary(ctx context.Context, subscriptionID, resourceType string, periodStart, periodEnd time.Time) (*UsageSummary, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidResourceType  = errors.New("invalid_resource_type")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrSummaryNotFound      = errors.New("summary_not_found")
)

// QuotaExceededError rejects an increment that would push a hard-capped
// resource past its limit.
type QuotaExceededError struct {
	ResourceType string
	Current      int64
	Limit        int64
	Requested    int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota_exceeded: %s current=%d limit=%d requested=%d",
		e.ResourceType, e.Current, e.Limit, e.Requested)
}

// Remaining is the headroom left under the cap, floored at zero.
func (e *QuotaExceededError) Remaining() int64 {
	remaining := e.Limit - e.Current
	if remaining < 0 {
		return 0
	}
	return remaining
}
