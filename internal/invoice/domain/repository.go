package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is shared with the reconciliation engine, which flips
// invoice status on provider payment events.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertItems(ctx context.Context, db *gorm.DB, items []InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindBySubscriptionAndPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status *InvoiceStatus) ([]Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status InvoiceStatus, paidAt *time.Time, at time.Time) error
	SetExternalRef(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef string, at time.Time) error
	SavePDF(ctx context.Context, db *gorm.DB, id snowflake.ID, pdf []byte, at time.Time) error
	FindPDF(ctx context.Context, db *gorm.DB, id snowflake.ID) ([]byte, error)
	ListDrafts(ctx context.Context, db *gorm.DB, limit int) ([]Invoice, error)
	ListUnrendered(ctx context.Context, db *gorm.DB, limit int) ([]Invoice, error)
}
