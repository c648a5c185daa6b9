package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/money"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/providers/pdf"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    invoicedomain.Repository
	ledger  ledgerdomain.Client
	billing *config.BillingConfigHolder
	pdf     pdf.Provider

	usageRepo        usagedomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	plansvc          plandomain.Service
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    invoicedomain.Repository
	Ledger  ledgerdomain.Client
	Billing *config.BillingConfigHolder
	PDF     pdf.Provider

	UsageRepo        usagedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Plansvc          plandomain.Service
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		ledger:  p.Ledger,
		billing: p.Billing,
		pdf:     p.PDF,

		usageRepo:        p.UsageRepo,
		subscriptionRepo: p.SubscriptionRepo,
		plansvc:          p.Plansvc,
	}
}

// ClosePeriod implements domain.Service. The summary freeze, the item
// derivation and the draft insert are one transaction; the provider
// handoff happens after commit, and a failed handoff leaves the invoice
// in draft for the worker to retry.
func (s *Service) ClosePeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoicedomain.InvoiceWithItems, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	subID, err := snowflake.ParseString(strings.TrimSpace(subscriptionID))
	if err != nil || subID == 0 {
		return nil, invoicedomain.ErrInvalidSubscription
	}
	if !periodStart.Before(periodEnd) {
		return nil, invoicedomain.ErrInvalidInvoice
	}

	var invoice invoicedomain.Invoice
	var items []invoicedomain.InvoiceItem
	var existing bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindBySubscriptionAndPeriod(ctx, tx, subID, periodStart)
		if err != nil {
			return err
		}
		if found != nil {
			foundItems, err := s.repo.ListItems(ctx, tx, found.ID)
			if err != nil {
				return err
			}
			invoice = *found
			items = foundItems
			existing = true
			return nil
		}

		subscription, err := s.subscriptionRepo.FindByID(ctx, tx, orgID, subID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return invoicedomain.ErrInvalidSubscription
		}

		plan, err := s.plansvc.GetByID(ctx, subscription.PlanID.String())
		if err != nil {
			return err
		}

		summaries, err := s.usageRepo.ListPendingSummariesForPeriod(ctx, tx, orgID, subID, periodStart)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		ids := make([]snowflake.ID, 0, len(summaries))
		for _, summary := range summaries {
			ids = append(ids, summary.ID)
		}
		if err := s.usageRepo.MarkSummariesBilled(ctx, tx, ids, now); err != nil {
			return err
		}

		invoice = invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			SubscriptionID: subID,
			Status:         invoicedomain.InvoiceStatusDraft,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			Currency:       plan.Plan.Currency,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		invoice.InvoiceNumber = fmt.Sprintf("INV-%s", invoice.ID)

		basePrice := plan.Plan.MonthlyPriceMinor
		if subscription.BillingCycle == subscriptiondomain.BillingCycleYearly {
			basePrice = plan.Plan.YearlyPriceMinor
		}

		items = []invoicedomain.InvoiceItem{{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoice.ID,
			ItemType:    invoicedomain.InvoiceItemTypeBase,
			Description: fmt.Sprintf("%s (%s)", plan.Plan.Name, subscription.BillingCycle),
			Quantity:    1,
			AmountMinor: basePrice,
			Position:    0,
			CreatedAt:   now,
		}}

		subtotal := basePrice
		for _, summary := range summaries {
			if summary.OverageQuantity <= 0 {
				continue
			}
			items = append(items, invoicedomain.InvoiceItem{
				ID:              s.genID.Generate(),
				OrgID:           orgID,
				InvoiceID:       invoice.ID,
				ItemType:        invoicedomain.InvoiceItemTypeOverage,
				Description:     fmt.Sprintf("%s overage", summary.ResourceType),
				ResourceType:    summary.ResourceType,
				Quantity:        summary.OverageQuantity,
				UnitPriceMicros: summary.OverageUnitPriceMicros,
				AmountMinor:     summary.OverageAmountMinor,
				Position:        len(items),
				CreatedAt:       now,
			})
			subtotal += summary.OverageAmountMinor
		}

		invoice.SubtotalMinor = subtotal
		invoice.TaxMinor = money.TaxMinor(subtotal, s.billing.Current().TaxRateBps)
		invoice.TotalMinor = subtotal + invoice.TaxMinor

		if err := s.repo.Insert(ctx, tx, &invoice); err != nil {
			return err
		}
		return s.repo.InsertItems(ctx, tx, items)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.findClosed(ctx, orgID, subID, periodStart)
		}
		return nil, err
	}

	if existing {
		return &invoicedomain.InvoiceWithItems{Invoice: invoice, Items: items}, nil
	}

	s.finalize(ctx, &invoice)

	s.log.Info("period closed",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_id", subID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.Int64("total_minor", invoice.TotalMinor),
	)

	return &invoicedomain.InvoiceWithItems{Invoice: invoice, Items: items}, nil
}

// finalize hands the draft to the provider. Failure is not fatal; the
// invoice stays draft and the next worker pass retries with the same
// idempotency key.
func (s *Service) finalize(ctx context.Context, invoice *invoicedomain.Invoice) {
	provider, err := s.ledger.CreateInvoice(ctx, ledgerdomain.CreateInvoiceRequest{
		OperationID:   invoice.ID.String(),
		InvoiceNumber: invoice.InvoiceNumber,
		SubtotalMinor: invoice.SubtotalMinor,
		TaxMinor:      invoice.TaxMinor,
		TotalMinor:    invoice.TotalMinor,
		Currency:      invoice.Currency,
	})
	if err != nil {
		s.log.Warn("invoice finalization deferred",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
		return
	}

	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ref := strings.TrimSpace(provider.InvoiceRef); ref != "" {
			if err := s.repo.SetExternalRef(ctx, tx, invoice.ID, ref, now); err != nil {
				return err
			}
			invoice.ExternalRef = &ref
		}
		if err := s.repo.UpdateStatus(ctx, tx, invoice.ID, invoicedomain.InvoiceStatusOpen, nil, now); err != nil {
			return err
		}
		invoice.Status = invoicedomain.InvoiceStatusOpen
		invoice.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.log.Error("failed to record invoice finalization",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}
}

// FinalizeDrafts implements domain.Service.
func (s *Service) FinalizeDrafts(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	drafts, err := s.repo.ListDrafts(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range drafts {
		invoice := drafts[i]
		s.finalize(ctx, &invoice)
		if invoice.Status == invoicedomain.InvoiceStatusOpen {
			count++
		}
	}
	return count, nil
}

func (s *Service) findClosed(ctx context.Context, orgID, subID snowflake.ID, periodStart time.Time) (*invoicedomain.InvoiceWithItems, error) {
	found, err := s.repo.FindBySubscriptionAndPeriod(ctx, s.db, subID, periodStart)
	if err != nil {
		return nil, err
	}
	if found == nil || found.OrgID != orgID {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, found.ID)
	if err != nil {
		return nil, err
	}
	return &invoicedomain.InvoiceWithItems{Invoice: *found, Items: items}, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (*invoicedomain.InvoiceWithItems, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoice
	}

	invoice, err := s.repo.FindByID(ctx, s.db, orgID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	items, err := s.repo.ListItems(ctx, s.db, invoiceID)
	if err != nil {
		return nil, err
	}

	return &invoicedomain.InvoiceWithItems{Invoice: *invoice, Items: items}, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	status, err := parseStatusFilter(req.Status)
	if err != nil {
		return nil, err
	}

	return s.repo.List(ctx, s.db, orgID, status)
}

// Render implements domain.Service.
func (s *Service) Render(ctx context.Context, id string) ([]byte, error) {
	result, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if result.Invoice.RenderedAt != nil {
		stored, err := s.repo.FindPDF(ctx, s.db, result.Invoice.ID)
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 {
			return stored, nil
		}
	}

	data := pdf.InvoiceData{
		OrgName:       result.Invoice.OrgID.String(),
		InvoiceNumber: result.Invoice.InvoiceNumber,
		IssueDate:     result.Invoice.CreatedAt.Format("2006-01-02"),
		ServicePeriod: fmt.Sprintf("%s to %s",
			result.Invoice.PeriodStart.Format("2006-01-02"),
			result.Invoice.PeriodEnd.Format("2006-01-02")),
		Status:   string(result.Invoice.Status),
		Subtotal: money.FormatMinor(result.Invoice.SubtotalMinor, result.Invoice.Currency),
		Tax:      money.FormatMinor(result.Invoice.TaxMinor, result.Invoice.Currency),
		Total:    money.FormatMinor(result.Invoice.TotalMinor, result.Invoice.Currency),
	}
	for _, item := range result.Items {
		unitPrice := money.FormatMinor(item.AmountMinor, result.Invoice.Currency)
		if item.ItemType == invoicedomain.InvoiceItemTypeOverage {
			unitPrice = money.FormatMicros(item.UnitPriceMicros, result.Invoice.Currency)
		}
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   unitPrice,
			Amount:      money.FormatMinor(item.AmountMinor, result.Invoice.Currency),
		})
	}

	rendered, err := s.pdf.GenerateInvoice(ctx, data)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SavePDF(ctx, s.db, result.Invoice.ID, rendered, s.clock.Now().UTC()); err != nil {
		return nil, err
	}

	return rendered, nil
}

func parseStatusFilter(value string) (*invoicedomain.InvoiceStatus, error) {
	status := strings.TrimSpace(strings.ToLower(value))
	if status == "" {
		return nil, nil
	}

	switch invoicedomain.InvoiceStatus(status) {
	case invoicedomain.InvoiceStatusDraft,
		invoicedomain.InvoiceStatusOpen,
		invoicedomain.InvoiceStatusPaid,
		invoicedomain.InvoiceStatusVoid:
		parsed := invoicedomain.InvoiceStatus(status)
		return &parsed, nil
	default:
		return nil, invoicedomain.ErrInvalidStatus
	}
}
