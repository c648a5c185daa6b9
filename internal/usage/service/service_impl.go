package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/money"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  usagedomain.Repository

	plansvc         plandomain.Service
	subscriptionsvc subscriptiondomain.Service
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  usagedomain.Repository

	Plansvc         plandomain.Service
	Subscriptionsvc subscriptiondomain.Service
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		plansvc:         p.Plansvc,
		subscriptionsvc: p.Subscriptionsvc,
	}
}

// Record appends one usage fact and folds it into the period rollup in a
// single transaction. A finite limit without overage pricing is a hard
// cap: the whole transaction rolls back and nothing is recorded. With
// overage enabled the increment always lands and the overage amount is
// recomputed under the same row lock the upsert took.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	resourceType := strings.TrimSpace(req.ResourceType)
	if resourceType == "" {
		return nil, usagedomain.ErrInvalidResourceType
	}
	if req.Quantity < 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}

	subscription, err := s.subscriptionsvc.GetActive(ctx)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return nil, usagedomain.ErrNoActiveSubscription
		}
		return nil, err
	}

	limit, metered, err := s.plansvc.Limit(ctx, subscription.PlanID.String(), resourceType)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	recordedAt := now
	if req.RecordedAt != nil {
		recordedAt = req.RecordedAt.UTC()
	}
	periodStart, periodEnd := containingPeriod(subscription, recordedAt)

	record := usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		OrgID:          orgID,
		SubscriptionID: subscription.ID,
		ResourceType:   resourceType,
		Quantity:       req.Quantity,
		RecordedAt:     recordedAt,
		CreatedAt:      now,
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		record.IdempotencyKey = &key
	}

	var result *usagedomain.UsageRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertRecord(ctx, tx, &record)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindRecordByIdempotencyKey(ctx, tx, orgID, *record.IdempotencyKey)
			if err != nil {
				return err
			}
			result = existing
			return nil
		}

		summary := usagedomain.UsageSummary{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			SubscriptionID: subscription.ID,
			ResourceType:   resourceType,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			Status:         usagedomain.SummaryStatusPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if metered {
			summary.IncludedQuantity = limit.MaxQuantity
			summary.OverageUnitPriceMicros = limit.OverageUnitPriceMicros
		}

		if err := s.repo.UpsertSummaryIncrement(ctx, tx, &summary, req.Quantity); err != nil {
			return err
		}

		current, err := s.repo.FindSummary(ctx, tx, orgID, subscription.ID, resourceType, periodStart)
		if err != nil {
			return err
		}
		if current == nil {
			return usagedomain.ErrSummaryNotFound
		}

		if !current.Unlimited() {
			included := *current.IncludedQuantity
			if current.UsedQuantity > included && current.OverageUnitPriceMicros == 0 {
				return &usagedomain.QuotaExceededError{
					ResourceType: resourceType,
					Current:      current.UsedQuantity - req.Quantity,
					Limit:        included,
					Requested:    req.Quantity,
				}
			}

			current.OverageQuantity = max64(0, current.UsedQuantity-included)
			current.OverageAmountMinor = money.OverageAmountMinor(current.OverageQuantity, current.OverageUnitPriceMicros)
			current.UpdatedAt = now
			if err := s.repo.UpdateSummary(ctx, tx, current); err != nil {
				return err
			}
		}

		result = &record
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RecordBatch processes items as independent transactions and reports
// per-item outcomes; partial success is the designed behavior.
func (s *Service) RecordBatch(ctx context.Context, reqs []usagedomain.RecordUsageRequest) []usagedomain.RecordUsageResult {
	results := make([]usagedomain.RecordUsageResult, 0, len(reqs))
	for i, req := range reqs {
		record, err := s.Record(ctx, req)
		if err != nil {
			results = append(results, usagedomain.RecordUsageResult{
				Index: i,
				Error: err.Error(),
			})
			continue
		}
		results = append(results, usagedomain.RecordUsageResult{
			Index:    i,
			Accepted: true,
			Record:   record,
		})
	}
	return results
}

// CheckQuota implements domain.Service. It reads the same summary row
// the write path increments, so the answer cannot diverge from it.
func (s *Service) CheckQuota(ctx context.Context, resourceType string, quantity int64) (usagedomain.QuotaStatus, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return usagedomain.QuotaStatus{}, usagedomain.ErrInvalidOrganization
	}

	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		return usagedomain.QuotaStatus{}, usagedomain.ErrInvalidResourceType
	}
	if quantity < 0 {
		return usagedomain.QuotaStatus{}, usagedomain.ErrInvalidQuantity
	}

	subscription, err := s.subscriptionsvc.GetActive(ctx)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return usagedomain.QuotaStatus{}, usagedomain.ErrNoActiveSubscription
		}
		return usagedomain.QuotaStatus{}, err
	}

	limit, metered, err := s.plansvc.Limit(ctx, subscription.PlanID.String(), resourceType)
	if err != nil {
		return usagedomain.QuotaStatus{}, err
	}

	periodStart, _ := containingPeriod(subscription, s.clock.Now().UTC())
	summary, err := s.repo.FindSummary(ctx, s.db, orgID, subscription.ID, resourceType, periodStart)
	if err != nil {
		return usagedomain.QuotaStatus{}, err
	}

	var used int64
	if summary != nil {
		used = summary.UsedQuantity
	}

	status := usagedomain.QuotaStatus{
		ResourceType: resourceType,
		Used:         used,
		Allowed:      true,
	}
	if metered {
		status.OverageAllowed = limit.AllowsOverage()
	}
	if metered && !limit.Unlimited() {
		remaining := max64(0, *limit.MaxQuantity-used)
		status.Limit = limit.MaxQuantity
		status.Remaining = &remaining
		status.Allowed = used+quantity <= *limit.MaxQuantity || limit.AllowsOverage()
	}

	return status, nil
}

// ListSummaries implements domain.Service.
func (s *Service) ListSummaries(ctx context.Context, req usagedomain.ListSummariesRequest) ([]usagedomain.UsageSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	return s.repo.ListSummaries(ctx, s.db, orgID, strings.TrimSpace(req.ResourceType), req.PeriodStart)
}

// RebuildSummary implements domain.Service.
func (s *Service) RebuildSummary(ctx context.Context, subscriptionID, resourceType string, periodStart, periodEnd time.Time) (*usagedomain.UsageSummary, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		return nil, usagedomain.ErrInvalidResourceType
	}

	subID, err := snowflake.ParseString(strings.TrimSpace(subscriptionID))
	if err != nil || subID == 0 {
		return nil, usagedomain.ErrInvalidSubscription
	}

	now := s.clock.Now().UTC()
	var rebuilt *usagedomain.UsageSummary
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, err := s.repo.SumRecords(ctx, tx, orgID, subID, resourceType, periodStart, periodEnd)
		if err != nil {
			return err
		}

		summary, err := s.repo.FindSummary(ctx, tx, orgID, subID, resourceType, periodStart)
		if err != nil {
			return err
		}
		if summary == nil {
			return usagedomain.ErrSummaryNotFound
		}

		summary.UsedQuantity = total
		summary.OverageQuantity = 0
		summary.OverageAmountMinor = 0
		if !summary.Unlimited() {
			summary.OverageQuantity = max64(0, total-*summary.IncludedQuantity)
			summary.OverageAmountMinor = money.OverageAmountMinor(summary.OverageQuantity, summary.OverageUnitPriceMicros)
		}
		summary.UpdatedAt = now
		if err := s.repo.UpdateSummary(ctx, tx, summary); err != nil {
			return err
		}

		rebuilt = summary
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("usage summary rebuilt",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_id", subID.String()),
		zap.String("resource_type", resourceType),
		zap.Int64("used_quantity", rebuilt.UsedQuantity),
	)

	return rebuilt, nil
}

// containingPeriod picks the billing window a usage timestamp belongs
// to, falling back to the calendar month for timestamps outside the
// subscription's current window.
func containingPeriod(subscription subscriptiondomain.Subscription, t time.Time) (time.Time, time.Time) {
	if !t.Before(subscription.CurrentPeriodStart) && t.Before(subscription.CurrentPeriodEnd) {
		return subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
