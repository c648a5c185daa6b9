package domain

import (
	"context"
	"errors"
	"time"
)

type InvoiceWithItems struct {
	Invoice Invoice       `json:"invoice"`
	Items   []InvoiceItem `json:"items"`
}

type ListInvoiceRequest struct {
	Status string
}

type Service interface {
	// ClosePeriod freezes the period's usage summaries, derives the
	// invoice from base price plus overage, and hands it to the provider
	// for collection. Re-running for an already-closed period returns
	// the existing invoice unchanged.
	ClosePeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*InvoiceWithItems, error)

	GetByID(ctx context.Context, id string) (*InvoiceWithItems, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)

	// Render returns the invoice PDF, generating and storing it on first
	// request.
	Render(ctx context.Context, id string) ([]byte, error)

	// FinalizeDrafts retries the provider handoff for invoices stuck in
	// draft. Worker only; it is not org-scoped.
	FinalizeDrafts(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrPeriodNotEnded      = errors.New("period_not_ended")
)
