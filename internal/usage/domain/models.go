// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SummaryStatus is the billing state of a usage rollup.
type SummaryStatus string

const (
	SummaryStatusPending SummaryStatus = "pending"
	SummaryStatusBilled  SummaryStatus = "billed"
	SummaryStatusWaived  SummaryStatus = "waived"
)

// UsageRecord is an immutable append-only usage fact. Records are never
// updated or deleted; summaries can always be rebuilt from them.
type UsageRecord struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index;uniqueIndex:ux_usage_records_idem"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	ResourceType   string       `gorm:"type:text;not null"`
	Quantity       int64        `gorm:"not null"`
	RecordedAt     time.Time    `gorm:"not null;index"`
	IdempotencyKey *string      `gorm:"type:text;uniqueIndex:ux_usage_records_idem"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// UsageSummary is the mutable per-period rollup, keyed by
// (org_id, subscription_id, resource_type, period_start). It exists as a
// cache over usage_records; the upsert on the natural key is what makes
// concurrent increments serialize at the row.
type UsageSummary struct {
	ID                     snowflake.ID  `gorm:"primaryKey"`
	OrgID                  snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_usage_summaries_key"`
	SubscriptionID         snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_usage_summaries_key"`
	ResourceType           string        `gorm:"type:text;not null;uniqueIndex:ux_usage_summaries_key"`
	PeriodStart            time.Time     `gorm:"not null;uniqueIndex:ux_usage_summaries_key"`
	PeriodEnd              time.Time     `gorm:"not null"`
	IncludedQuantity       *int64        `gorm:""`
	UsedQuantity           int64         `gorm:"not null;default:0"`
	OverageQuantity        int64         `gorm:"not null;default:0"`
	OverageUnitPriceMicros int64         `gorm:"not null;default:0"`
	OverageAmountMinor     int64         `gorm:"not null;default:0"`
	Status                 SummaryStatus `gorm:"type:text;not null;default:pending"`
	CreatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageSummary) TableName() string { return "usage_summaries" }

// Unlimited reports whether the summary tracks an uncapped resource.
func (s UsageSummary) Unlimited() bool { return s.IncludedQuantity == nil }
