// Package scheduler drives the periodic billing sweeps: closing ended
// periods into invoices, retrying stuck provider handoffs, rolling
// subscription windows forward, and rendering invoice PDFs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/observability/correlation"
	obsmetrics "github.com/mihaildragos/social-proof-app-sub000/internal/observability/metrics"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler dependencies are incomplete")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Billing *config.BillingConfigHolder

	ReconcileSvc     reconciledomain.Service
	InvoiceSvc       invoicedomain.Service
	SubscriptionRepo subscriptiondomain.Repository
	InvoiceRepo      invoicedomain.Repository

	Config Config `optional:"true"`
}

type Scheduler struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	billing *config.BillingConfigHolder

	reconcileSvc     reconciledomain.Service
	invoiceSvc       invoicedomain.Service
	subscriptionRepo subscriptiondomain.Repository
	invoiceRepo      invoicedomain.Repository
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Billing == nil ||
		p.ReconcileSvc == nil || p.InvoiceSvc == nil ||
		p.SubscriptionRepo == nil || p.InvoiceRepo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:      p.DB,
		log:     p.Log.Named("scheduler"),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		billing: p.Billing,

		reconcileSvc:     p.ReconcileSvc,
		invoiceSvc:       p.InvoiceSvc,
		subscriptionRepo: p.SubscriptionRepo,
		invoiceRepo:      p.InvoiceRepo,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) (int, error)) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, runID := correlation.Ensure(ctx)
	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", runID),
	)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	processed, err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	schedMetrics.AddBatchProcessed(name, processed)

	if err == nil {
		if processed > 0 {
			log.Info("job finished", zap.Int("processed", processed))
		}
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	log.Error("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes one sweep of every enabled job. Invoicing runs
// before rollover so the ended period window is still on the row when
// the invoice is derived.
func (s *Scheduler) RunOnce(parent context.Context) error {
	policy := s.billing.Current()

	jobs := []struct {
		Name string
		Run  func(context.Context) (int, error)
	}{
		{"invoice", func(ctx context.Context) (int, error) {
			return s.InvoiceJob(ctx, policy.InvoiceBatchSize)
		}},
		{"invoice_finalize", func(ctx context.Context) (int, error) {
			return s.invoiceSvc.FinalizeDrafts(ctx, policy.InvoiceBatchSize)
		}},
		{"rollover", func(ctx context.Context) (int, error) {
			return s.reconcileSvc.RolloverDuePeriods(ctx, policy.RolloverBatchSize)
		}},
		{"render", func(ctx context.Context) (int, error) {
			return s.RenderJob(ctx, policy.InvoiceBatchSize)
		}},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

// RunForever loops RunOnce on the configured interval until the
// context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// InvoiceJob closes the ended billing period of each due subscription.
// Pending rows are left for the rollover job to void, and trial
// periods are not billed.
func (s *Scheduler) InvoiceJob(ctx context.Context, batchSize int) (int, error) {
	now := s.clock.Now().UTC()
	due, err := s.subscriptionRepo.ListPeriodEnded(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	var errs error
	for _, subscription := range due {
		switch subscription.Status {
		case subscriptiondomain.SubscriptionStatusPending,
			subscriptiondomain.SubscriptionStatusTrialing:
			continue
		}

		orgCtx := orgcontext.WithOrgID(ctx, int64(subscription.OrgID))
		_, err := s.invoiceSvc.ClosePeriod(orgCtx, subscription.ID.String(),
			subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd)
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		count++
	}
	return count, errs
}

// RenderJob generates PDFs for finalized invoices that have none yet.
func (s *Scheduler) RenderJob(ctx context.Context, batchSize int) (int, error) {
	invoices, err := s.invoiceRepo.ListUnrendered(ctx, s.db, batchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	var errs error
	for _, invoice := range invoices {
		orgCtx := orgcontext.WithOrgID(ctx, int64(invoice.OrgID))
		if _, err := s.invoiceSvc.Render(orgCtx, invoice.ID.String()); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		count++
	}
	return count, errs
}
