// Package domain contains persistence models for provider event
// reconciliation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EventOutcome records what processing a provider event did.
type EventOutcome string

const (
	// EventOutcomeApplied means local state changed.
	EventOutcomeApplied EventOutcome = "applied"
	// EventOutcomeSkippedStale means the event lost last-writer-wins
	// against a newer local write.
	EventOutcomeSkippedStale EventOutcome = "skipped_stale"
	// EventOutcomeNoop means the event was acknowledged without any
	// state change, for instance an unknown event type.
	EventOutcomeNoop EventOutcome = "noop"
)

// ProviderEventRecord is the idempotency marker for one processed
// provider event. The unique index on provider_event_id makes replay
// delivery a read, not a second apply.
type ProviderEventRecord struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	ProviderEventID string        `gorm:"type:text;not null;uniqueIndex:ux_provider_events_event_id"`
	EventType       string        `gorm:"type:text;not null"`
	Outcome         EventOutcome  `gorm:"type:text;not null"`
	SubscriptionID  *snowflake.ID `gorm:"index"`
	ProcessedAt     time.Time     `gorm:"not null"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProviderEventRecord) TableName() string { return "provider_events" }
