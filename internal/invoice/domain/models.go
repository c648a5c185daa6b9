// Package domain contains persistence models for invoices.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus is the collection state of an invoice. Everything past
// draft is immutable except the status itself.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusOpen  InvoiceStatus = "open"
	InvoiceStatusPaid  InvoiceStatus = "paid"
	InvoiceStatusVoid  InvoiceStatus = "void"
)

// InvoiceItemType distinguishes the base plan charge from usage overage
// lines.
type InvoiceItemType string

const (
	InvoiceItemTypeBase    InvoiceItemType = "base"
	InvoiceItemTypeOverage InvoiceItemType = "overage"
)

// Invoice is the durable record of one closed billing period. The
// unique key on (subscription_id, period_start) is what makes period
// close idempotent.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	OrgID          snowflake.ID  `gorm:"not null;index"`
	SubscriptionID snowflake.ID  `gorm:"not null;index;uniqueIndex:ux_invoices_period"`
	InvoiceNumber  string        `gorm:"type:text;not null"`
	Status         InvoiceStatus `gorm:"type:text;not null"`
	PeriodStart    time.Time     `gorm:"not null;uniqueIndex:ux_invoices_period"`
	PeriodEnd      time.Time     `gorm:"not null"`
	Currency       string        `gorm:"type:text;not null"`
	SubtotalMinor  int64         `gorm:"not null"`
	TaxMinor       int64         `gorm:"not null"`
	TotalMinor     int64         `gorm:"not null"`
	ExternalRef    *string       `gorm:"type:text;index"`
	PaidAt         *time.Time    `gorm:""`
	RenderedAt     *time.Time    `gorm:""`
	PDF            []byte        `gorm:"type:bytea"`
	CreatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is one line of an invoice.
type InvoiceItem struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	OrgID           snowflake.ID    `gorm:"not null;index"`
	InvoiceID       snowflake.ID    `gorm:"not null;index"`
	ItemType        InvoiceItemType `gorm:"type:text;not null"`
	Description     string          `gorm:"type:text;not null"`
	ResourceType    string          `gorm:"type:text"`
	Quantity        int64           `gorm:"not null"`
	UnitPriceMicros int64           `gorm:"not null;default:0"`
	AmountMinor     int64           `gorm:"not null"`
	Position        int             `gorm:"not null;default:0"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
