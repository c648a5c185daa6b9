package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is shared with the invoice ledger, which freezes summaries
// at period close inside its own transaction.
type Repository interface {
	InsertRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindRecordByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*UsageRecord, error)
	SumRecords(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, resourceType string, periodStart, periodEnd time.Time) (int64, error)

	UpsertSummaryIncrement(ctx context.Context, db *gorm.DB, summary *UsageSummary, delta int64) error
	FindSummary(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, resourceType string, periodStart time.Time) (*UsageSummary, error)
	UpdateSummary(ctx context.Context, db *gorm.DB, summary *UsageSummary) error
	ListSummaries(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resourceType string, periodStart *time.Time) ([]UsageSummary, error)

	ListPendingSummariesForPeriod(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, periodStart time.Time) ([]UsageSummary, error)
	MarkSummariesBilled(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error
}
