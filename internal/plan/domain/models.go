// Package domain contains persistence models for the plan catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Plan is a billable plan. Plans referenced by subscriptions are never
// deleted; archival flips IsPublic off.
type Plan struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	OrgID             snowflake.ID `gorm:"not null;index"`
	Code              string       `gorm:"type:text;not null"`
	Name              string       `gorm:"type:text;not null"`
	MonthlyPriceMinor int64        `gorm:"not null"`
	YearlyPriceMinor  int64        `gorm:"not null"`
	Currency          string       `gorm:"type:text;not null"`
	IsPublic          bool         `gorm:"not null;default:true"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PlanLimit is a per-resource quota attached to a plan. MaxQuantity nil
// means unlimited; OverageUnitPriceMicros zero means overage is disallowed
// and the cap is hard.
type PlanLimit struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	OrgID                  snowflake.ID `gorm:"not null;index"`
	PlanID                 snowflake.ID `gorm:"not null;index"`
	ResourceType           string       `gorm:"type:text;not null"`
	MaxQuantity            *int64       `gorm:""`
	OverageUnitPriceMicros int64        `gorm:"not null;default:0"`
	Position               int          `gorm:"not null;default:0"`
	CreatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlanLimit) TableName() string { return "plan_limits" }

// Unlimited reports whether the limit has no cap.
func (l PlanLimit) Unlimited() bool { return l.MaxQuantity == nil }

// AllowsOverage reports whether usage beyond the cap is billable instead of
// rejected.
func (l PlanLimit) AllowsOverage() bool { return l.OverageUnitPriceMicros > 0 }
