// Package pdf renders billing documents.
package pdf

import (
	"context"

	"go.uber.org/fx"
)

type InvoiceData struct {
	OrgName       string
	InvoiceNumber string
	IssueDate     string
	ServicePeriod string
	Status        string

	Items []InvoiceItem

	Subtotal string
	Tax      string
	Total    string
}

type InvoiceItem struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) ([]byte, error)
}

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)
