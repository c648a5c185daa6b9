// Package domain contains persistence models for subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "pending"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// BillingCycle is the subscription renewal interval.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// CancelMode selects between immediate cancellation and cancellation at
// the current period boundary.
type CancelMode string

const (
	CancelModeImmediate CancelMode = "immediate"
	CancelModePeriodEnd CancelMode = "period_end"
)

// NonTerminalStatuses are the states counted by the one-per-org
// uniqueness rule. The store enforces it with a partial unique index on
// org_id over these states; canceled rows are kept forever.
var NonTerminalStatuses = []SubscriptionStatus{
	SubscriptionStatusPending,
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
}

// Subscription captures an organization's billing agreement. Rows are
// never deleted; terminal rows keep their history. UpdatedAt doubles as
// the last-writer-wins watermark against provider event timestamps.
type Subscription struct {
	ID                 snowflake.ID       `gorm:"primaryKey"`
	OrgID              snowflake.ID       `gorm:"not null;index"`
	PlanID             snowflake.ID       `gorm:"not null;index"`
	BillingCycle       BillingCycle       `gorm:"type:text;not null"`
	Status             SubscriptionStatus `gorm:"type:text;not null"`
	CurrentPeriodStart time.Time          `gorm:"not null"`
	CurrentPeriodEnd   time.Time          `gorm:"not null"`
	TrialEndsAt        *time.Time         `gorm:""`
	CancelAtPeriodEnd  bool               `gorm:"not null;default:false"`
	CanceledAt         *time.Time         `gorm:""`
	ExternalRef        *string            `gorm:"type:text;index"`
	CustomerRef        string             `gorm:"type:text;not null;index"`
	Metadata           datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Terminal reports whether the subscription can no longer transition.
func (s Subscription) Terminal() bool {
	return s.Status == SubscriptionStatusCanceled
}

// PeriodEnded reports whether the current billing period is over at t.
func (s Subscription) PeriodEnded(t time.Time) bool {
	return !s.CurrentPeriodEnd.After(t)
}

// NextPeriod returns the period window following the current one.
func (s Subscription) NextPeriod() (time.Time, time.Time) {
	start := s.CurrentPeriodEnd
	return start, AdvancePeriod(start, s.BillingCycle)
}

// AdvancePeriod returns the end of a period starting at t for the given
// cycle.
func AdvancePeriod(t time.Time, cycle BillingCycle) time.Time {
	if cycle == BillingCycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}
