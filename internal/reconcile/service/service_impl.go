package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultRolloverBatch = 100

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  reconciledomain.Repository

	subscriptionRepo subscriptiondomain.Repository
	invoiceRepo      invoicedomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  reconciledomain.Repository

	SubscriptionRepo subscriptiondomain.Repository
	InvoiceRepo      invoicedomain.Repository
}

func NewService(p ServiceParam) reconciledomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("reconcile.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		subscriptionRepo: p.SubscriptionRepo,
		invoiceRepo:      p.InvoiceRepo,
	}
}

// HandleProviderEvent implements domain.Service. The idempotency check,
// the state change and the marker insert share one transaction, so an
// event is applied exactly once no matter how often the provider
// delivers it.
func (s *Service) HandleProviderEvent(ctx context.Context, event *ledgerdomain.ProviderEvent) (*reconciledomain.HandleResult, error) {
	if event == nil || strings.TrimSpace(event.ID) == "" ||
		strings.TrimSpace(event.Type) == "" || event.CreatedAt.IsZero() {
		return nil, reconciledomain.ErrInvalidEvent
	}

	var result reconciledomain.HandleResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByProviderEventID(ctx, tx, event.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = reconciledomain.HandleResult{
				Outcome:        existing.Outcome,
				SubscriptionID: existing.SubscriptionID,
				Replayed:       true,
			}
			return nil
		}

		var outcome reconciledomain.EventOutcome
		var subscriptionID *snowflake.ID
		switch event.Type {
		case ledgerdomain.EventSubscriptionCreated,
			ledgerdomain.EventSubscriptionUpdated,
			ledgerdomain.EventSubscriptionDeleted:
			outcome, subscriptionID, err = s.applySubscriptionEvent(ctx, tx, event)
		case ledgerdomain.EventInvoicePaymentSucceeded,
			ledgerdomain.EventInvoicePaymentFailed:
			outcome, subscriptionID, err = s.applyPaymentEvent(ctx, tx, event)
		case ledgerdomain.EventTrialWillEnd:
			outcome = reconciledomain.EventOutcomeNoop
		default:
			s.log.Info("ignoring unknown provider event type",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type),
			)
			outcome = reconciledomain.EventOutcomeNoop
		}
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if err := s.repo.Insert(ctx, tx, &reconciledomain.ProviderEventRecord{
			ID:              s.genID.Generate(),
			ProviderEventID: event.ID,
			EventType:       event.Type,
			Outcome:         outcome,
			SubscriptionID:  subscriptionID,
			ProcessedAt:     now,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		result = reconciledomain.HandleResult{Outcome: outcome, SubscriptionID: subscriptionID}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost a race with a concurrent delivery of the same event.
			return s.replayedResult(ctx, event.ID)
		}
		return nil, err
	}

	s.log.Info("provider event processed",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("outcome", string(result.Outcome)),
		zap.Bool("replayed", result.Replayed),
	)

	return &result, nil
}

func (s *Service) replayedResult(ctx context.Context, eventID string) (*reconciledomain.HandleResult, error) {
	existing, err := s.repo.FindByProviderEventID(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, reconciledomain.ErrInvalidEvent
	}
	return &reconciledomain.HandleResult{
		Outcome:        existing.Outcome,
		SubscriptionID: existing.SubscriptionID,
		Replayed:       true,
	}, nil
}

func (s *Service) applySubscriptionEvent(ctx context.Context, tx *gorm.DB, event *ledgerdomain.ProviderEvent) (reconciledomain.EventOutcome, *snowflake.ID, error) {
	var data ledgerdomain.SubscriptionEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return "", nil, reconciledomain.ErrInvalidEvent
	}
	if strings.TrimSpace(data.ExternalRef) == "" {
		return "", nil, reconciledomain.ErrInvalidEvent
	}

	subscription, err := s.subscriptionRepo.FindByExternalRefForUpdate(ctx, tx, data.ExternalRef)
	if err != nil {
		return "", nil, err
	}
	if subscription == nil && event.Type == ledgerdomain.EventSubscriptionCreated &&
		strings.TrimSpace(data.CustomerRef) != "" {
		// The created event can arrive before the synchronous create call
		// stored the external ref on the pending row.
		subscription, err = s.subscriptionRepo.FindPendingByCustomerRefForUpdate(ctx, tx, data.CustomerRef)
		if err != nil {
			return "", nil, err
		}
	}
	if subscription == nil {
		return "", nil, reconciledomain.ErrEventUnmatched
	}

	if !event.CreatedAt.After(subscription.UpdatedAt) {
		s.log.Info("skipping stale provider event",
			zap.String("event_id", event.ID),
			zap.String("subscription_id", subscription.ID.String()),
			zap.Time("event_at", event.CreatedAt),
			zap.Time("local_at", subscription.UpdatedAt),
		)
		return reconciledomain.EventOutcomeSkippedStale, &subscription.ID, nil
	}

	if subscription.ExternalRef == nil {
		ref := data.ExternalRef
		subscription.ExternalRef = &ref
	}
	if data.CurrentPeriodStart != nil {
		subscription.CurrentPeriodStart = data.CurrentPeriodStart.UTC()
	}
	if data.CurrentPeriodEnd != nil {
		subscription.CurrentPeriodEnd = data.CurrentPeriodEnd.UTC()
	}
	if data.TrialEndsAt != nil {
		trialEnd := data.TrialEndsAt.UTC()
		subscription.TrialEndsAt = &trialEnd
	}

	target := mapProviderStatus(data.Status)
	if event.Type == ledgerdomain.EventSubscriptionDeleted {
		target = subscriptiondomain.SubscriptionStatusCanceled
	}
	if target != "" && target != subscription.Status {
		if subscriptiondomain.TransitionAllowed(subscription.Status, target) {
			subscription.Status = target
			if target == subscriptiondomain.SubscriptionStatusCanceled {
				canceledAt := event.CreatedAt.UTC()
				subscription.CanceledAt = &canceledAt
			}
		} else {
			s.log.Warn("provider event requested disallowed transition",
				zap.String("event_id", event.ID),
				zap.String("subscription_id", subscription.ID.String()),
				zap.String("from", string(subscription.Status)),
				zap.String("to", string(target)),
			)
		}
	}

	subscription.UpdatedAt = event.CreatedAt.UTC()
	if err := s.subscriptionRepo.Update(ctx, tx, subscription); err != nil {
		return "", nil, err
	}

	return reconciledomain.EventOutcomeApplied, &subscription.ID, nil
}

func (s *Service) applyPaymentEvent(ctx context.Context, tx *gorm.DB, event *ledgerdomain.ProviderEvent) (reconciledomain.EventOutcome, *snowflake.ID, error) {
	var data ledgerdomain.InvoiceEventData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return "", nil, reconciledomain.ErrInvalidEvent
	}
	if strings.TrimSpace(data.ExternalRef) == "" {
		return "", nil, reconciledomain.ErrInvalidEvent
	}

	subscription, err := s.subscriptionRepo.FindByExternalRefForUpdate(ctx, tx, data.ExternalRef)
	if err != nil {
		return "", nil, err
	}
	if subscription == nil {
		return "", nil, reconciledomain.ErrEventUnmatched
	}

	applied := false
	if event.Type == ledgerdomain.EventInvoicePaymentSucceeded && data.InvoiceRef != "" {
		// Paid is a provider fact, not a local write, so it lands
		// regardless of the subscription watermark.
		invoice, err := s.invoiceRepo.FindByExternalRef(ctx, tx, data.InvoiceRef)
		if err != nil {
			return "", nil, err
		}
		if invoice != nil && invoice.Status != invoicedomain.InvoiceStatusPaid {
			paidAt := event.CreatedAt.UTC()
			if err := s.invoiceRepo.UpdateStatus(ctx, tx, invoice.ID,
				invoicedomain.InvoiceStatusPaid, &paidAt, s.clock.Now().UTC()); err != nil {
				return "", nil, err
			}
			applied = true
		}
	}

	if !event.CreatedAt.After(subscription.UpdatedAt) {
		if applied {
			return reconciledomain.EventOutcomeApplied, &subscription.ID, nil
		}
		return reconciledomain.EventOutcomeSkippedStale, &subscription.ID, nil
	}

	target := subscriptiondomain.SubscriptionStatusPastDue
	if event.Type == ledgerdomain.EventInvoicePaymentSucceeded {
		target = subscriptiondomain.SubscriptionStatusActive
	}
	if target != subscription.Status &&
		subscriptiondomain.TransitionAllowed(subscription.Status, target) {
		subscription.Status = target
		subscription.UpdatedAt = event.CreatedAt.UTC()
		if err := s.subscriptionRepo.Update(ctx, tx, subscription); err != nil {
			return "", nil, err
		}
		applied = true
	}

	if !applied {
		return reconciledomain.EventOutcomeNoop, &subscription.ID, nil
	}
	return reconciledomain.EventOutcomeApplied, &subscription.ID, nil
}

func mapProviderStatus(value string) subscriptiondomain.SubscriptionStatus {
	status := subscriptiondomain.SubscriptionStatus(strings.TrimSpace(strings.ToLower(value)))
	switch status {
	case subscriptiondomain.SubscriptionStatusPending,
		subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPastDue,
		subscriptiondomain.SubscriptionStatusCanceled:
		return status
	default:
		return ""
	}
}

// RolloverDuePeriods implements domain.Service. Each subscription is
// swept in its own transaction so one bad row cannot block the batch.
// Billed subscriptions only advance once their ended window has an
// invoice row; until then the window stays on the row for the invoice
// sweep to close.
func (s *Service) RolloverDuePeriods(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultRolloverBatch
	}

	now := s.clock.Now().UTC()
	due, err := s.subscriptionRepo.ListPeriodEnded(ctx, s.db, now, batchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, candidate := range due {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			subscription, err := s.subscriptionRepo.FindByIDForUpdate(ctx, tx, candidate.OrgID, candidate.ID)
			if err != nil {
				return err
			}
			if subscription == nil || subscription.Terminal() || !subscription.PeriodEnded(now) {
				return nil
			}

			switch subscription.Status {
			case subscriptiondomain.SubscriptionStatusActive,
				subscriptiondomain.SubscriptionStatusPastDue:
				// The row holds the only copy of the ended window.
				// Advancing it before the invoice sweep closed the
				// period would make that period unbillable, so hold
				// the rollover until an invoice row exists.
				invoice, err := s.invoiceRepo.FindBySubscriptionAndPeriod(ctx, tx, subscription.ID, subscription.CurrentPeriodStart)
				if err != nil {
					return err
				}
				if invoice == nil {
					s.log.Warn("holding rollover for uninvoiced period",
						zap.String("subscription_id", subscription.ID.String()),
						zap.Time("period_start", subscription.CurrentPeriodStart),
						zap.Time("period_end", subscription.CurrentPeriodEnd),
					)
					return nil
				}
			}

			switch {
			case subscription.Status == subscriptiondomain.SubscriptionStatusPending:
				// The provider never confirmed before the window ran out.
				subscription.Status = subscriptiondomain.SubscriptionStatusCanceled
				canceledAt := now
				subscription.CanceledAt = &canceledAt
			case subscription.CancelAtPeriodEnd:
				subscription.Status = subscriptiondomain.SubscriptionStatusCanceled
				canceledAt := subscription.CurrentPeriodEnd
				subscription.CanceledAt = &canceledAt
			default:
				start, end := subscription.NextPeriod()
				subscription.CurrentPeriodStart = start
				subscription.CurrentPeriodEnd = end
				if subscription.Status == subscriptiondomain.SubscriptionStatusTrialing &&
					subscription.TrialEndsAt != nil && !subscription.TrialEndsAt.After(now) {
					subscription.Status = subscriptiondomain.SubscriptionStatusActive
				}
			}

			subscription.UpdatedAt = now
			if err := s.subscriptionRepo.Update(ctx, tx, subscription); err != nil {
				return err
			}
			count++
			return nil
		})
		if err != nil {
			s.log.Error("period rollover failed",
				zap.String("subscription_id", candidate.ID.String()),
				zap.Error(err),
			)
		}
	}

	if count > 0 {
		s.log.Info("period rollover swept subscriptions",
			zap.Int("count", count),
			zap.Time("as_of", now),
		)
	}

	return count, nil
}
