package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	"gorm.io/gorm"
)

const invoiceColumns = `id, org_id, subscription_id, invoice_number, status,
	 period_start, period_end, currency, subtotal_minor, tax_minor, total_minor,
	 external_ref, paid_at, rendered_at, created_at, updated_at`

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, subscription_id, invoice_number, status,
			period_start, period_end, currency, subtotal_minor, tax_minor,
			total_minor, external_ref, paid_at, rendered_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrgID,
		invoice.SubscriptionID,
		invoice.InvoiceNumber,
		invoice.Status,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.Currency,
		invoice.SubtotalMinor,
		invoice.TaxMinor,
		invoice.TotalMinor,
		invoice.ExternalRef,
		invoice.PaidAt,
		invoice.RenderedAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []invoicedomain.InvoiceItem) error {
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO invoice_items (
				id, org_id, invoice_id, item_type, description, resource_type,
				quantity, unit_price_micros, amount_minor, position, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.OrgID,
			item.InvoiceID,
			item.ItemType,
			item.Description,
			item.ResourceType,
			item.Quantity,
			item.UnitPriceMicros,
			item.AmountMinor,
			item.Position,
			item.CreatedAt,
		).Error; err != nil {
			return err
		}
	}

	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices WHERE org_id = ? AND id = ?`,
		orgID, id)
}

func (r *repo) FindBySubscriptionAndPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE subscription_id = ? AND period_start = ?
		 LIMIT 1`,
		subscriptionID, periodStart)
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices WHERE external_ref = ? LIMIT 1`,
		externalRef)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status *invoicedomain.InvoiceStatus) ([]invoicedomain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE org_id = ?`
	args := []any{orgID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY period_start DESC`

	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.InvoiceItem, error) {
	var items []invoicedomain.InvoiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, invoice_id, item_type, description, resource_type,
		 quantity, unit_price_micros, amount_minor, position, created_at
		 FROM invoice_items WHERE invoice_id = ?
		 ORDER BY position ASC`,
		invoiceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status invoicedomain.InvoiceStatus, paidAt *time.Time, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET status = ?, paid_at = ?, updated_at = ? WHERE id = ?`,
		status, paidAt, at, id,
	).Error
}

func (r *repo) SetExternalRef(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET external_ref = ?, updated_at = ? WHERE id = ?`,
		externalRef, at, id,
	).Error
}

func (r *repo) SavePDF(ctx context.Context, db *gorm.DB, id snowflake.ID, pdf []byte, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices SET pdf = ?, rendered_at = ?, updated_at = ? WHERE id = ?`,
		pdf, at, at, id,
	).Error
}

func (r *repo) FindPDF(ctx context.Context, db *gorm.DB, id snowflake.ID) ([]byte, error) {
	var pdf []byte
	err := db.WithContext(ctx).Raw(
		`SELECT pdf FROM invoices WHERE id = ?`, id,
	).Scan(&pdf).Error
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

func (r *repo) ListDrafts(ctx context.Context, db *gorm.DB, limit int) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status = ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		invoicedomain.InvoiceStatusDraft,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListUnrendered(ctx context.Context, db *gorm.DB, limit int) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status <> ? AND rendered_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT ?`,
		invoicedomain.InvoiceStatusDraft,
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}
