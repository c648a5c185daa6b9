package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"gorm.io/gorm"
)

const summaryColumns = `id, org_id, subscription_id, resource_type, period_start,
	 period_end, included_quantity, used_quantity, overage_quantity,
	 overage_unit_price_micros, overage_amount_minor, status, created_at, updated_at`

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	query := `INSERT INTO usage_records (
		id, org_id, subscription_id, resource_type, quantity,
		recorded_at, idempotency_key, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if record.IdempotencyKey != nil {
		query += ` ON CONFLICT (org_id, idempotency_key) DO NOTHING`
	}

	result := db.WithContext(ctx).Exec(
		query,
		record.ID,
		record.OrgID,
		record.SubscriptionID,
		record.ResourceType,
		record.Quantity,
		record.RecordedAt,
		record.IdempotencyKey,
		record.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindRecordByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, subscription_id, resource_type, quantity,
		 recorded_at, idempotency_key, created_at
		 FROM usage_records
		 WHERE org_id = ? AND idempotency_key = ?
		 LIMIT 1`,
		orgID,
		key,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) SumRecords(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, resourceType string, periodStart, periodEnd time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0) FROM usage_records
		 WHERE org_id = ? AND subscription_id = ? AND resource_type = ?
		   AND recorded_at >= ? AND recorded_at < ?`,
		orgID,
		subscriptionID,
		resourceType,
		periodStart,
		periodEnd,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// UpsertSummaryIncrement adds delta to the period rollup, creating the
// row lazily on first usage. The conflict update takes a row lock held
// to commit, so the caller's follow-up overage write is serialized with
// concurrent increments.
func (r *repo) UpsertSummaryIncrement(ctx context.Context, db *gorm.DB, summary *usagedomain.UsageSummary, delta int64) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_summaries (
			id, org_id, subscription_id, resource_type, period_start,
			period_end, included_quantity, used_quantity, overage_quantity,
			overage_unit_price_micros, overage_amount_minor, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?)
		ON CONFLICT (org_id, subscription_id, resource_type, period_start)
		DO UPDATE SET
			used_quantity = usage_summaries.used_quantity + excluded.used_quantity,
			updated_at = excluded.updated_at`,
		summary.ID,
		summary.OrgID,
		summary.SubscriptionID,
		summary.ResourceType,
		summary.PeriodStart,
		summary.PeriodEnd,
		summary.IncludedQuantity,
		delta,
		summary.OverageUnitPriceMicros,
		usagedomain.SummaryStatusPending,
		summary.CreatedAt,
		summary.UpdatedAt,
	).Error
}

func (r *repo) FindSummary(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, resourceType string, periodStart time.Time) (*usagedomain.UsageSummary, error) {
	var summary usagedomain.UsageSummary
	err := db.WithContext(ctx).Raw(
		`SELECT `+summaryColumns+` FROM usage_summaries
		 WHERE org_id = ? AND subscription_id = ? AND resource_type = ? AND period_start = ?
		 LIMIT 1`,
		orgID,
		subscriptionID,
		resourceType,
		periodStart,
	).Scan(&summary).Error
	if err != nil {
		return nil, err
	}
	if summary.ID == 0 {
		return nil, nil
	}
	return &summary, nil
}

func (r *repo) UpdateSummary(ctx context.Context, db *gorm.DB, summary *usagedomain.UsageSummary) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_summaries SET
			included_quantity = ?, used_quantity = ?, overage_quantity = ?,
			overage_unit_price_micros = ?, overage_amount_minor = ?,
			status = ?, updated_at = ?
		 WHERE id = ?`,
		summary.IncludedQuantity,
		summary.UsedQuantity,
		summary.OverageQuantity,
		summary.OverageUnitPriceMicros,
		summary.OverageAmountMinor,
		summary.Status,
		summary.UpdatedAt,
		summary.ID,
	).Error
}

func (r *repo) ListSummaries(ctx context.Context, db *gorm.DB, orgID snowflake.ID, resourceType string, periodStart *time.Time) ([]usagedomain.UsageSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM usage_summaries WHERE org_id = ?`
	args := []any{orgID}
	if resourceType != "" {
		query += ` AND resource_type = ?`
		args = append(args, resourceType)
	}
	if periodStart != nil {
		query += ` AND period_start = ?`
		args = append(args, *periodStart)
	}
	query += ` ORDER BY period_start DESC, resource_type ASC`

	var summaries []usagedomain.UsageSummary
	err := db.WithContext(ctx).Raw(query, args...).Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *repo) ListPendingSummariesForPeriod(ctx context.Context, db *gorm.DB, orgID, subscriptionID snowflake.ID, periodStart time.Time) ([]usagedomain.UsageSummary, error) {
	var summaries []usagedomain.UsageSummary
	err := db.WithContext(ctx).Raw(
		`SELECT `+summaryColumns+` FROM usage_summaries
		 WHERE org_id = ? AND subscription_id = ? AND period_start = ? AND status = ?
		 ORDER BY resource_type ASC`,
		orgID,
		subscriptionID,
		periodStart,
		usagedomain.SummaryStatusPending,
	).Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (r *repo) MarkSummariesBilled(ctx context.Context, db *gorm.DB, ids []snowflake.ID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE usage_summaries SET status = ?, updated_at = ? WHERE id IN ?`,
		usagedomain.SummaryStatusBilled,
		at,
		ids,
	).Error
}
