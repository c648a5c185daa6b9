package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID  *snowflake.Node
	clock  clock.Clock
	repo   subscriptiondomain.Repository
	ledger ledgerdomain.Client

	plansvc plandomain.Service
}

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   subscriptiondomain.Repository
	Ledger ledgerdomain.Client

	Plansvc plandomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,

		plansvc: p.Plansvc,
	}
}

// Create inserts a pending subscription before calling the provider. The
// pending row reserves the org's one-subscription slot; if the provider
// call fails the row is voided and nothing is leaked. Promotion out of
// pending only happens when the matching confirmation event arrives.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	if err := validateCycle(req.BillingCycle); err != nil {
		return nil, err
	}

	customerRef := strings.TrimSpace(req.CustomerRef)
	if customerRef == "" {
		return nil, subscriptiondomain.ErrInvalidCustomerRef
	}
	if req.TrialDays < 0 {
		return nil, subscriptiondomain.ErrInvalidSubscription
	}

	plan, err := s.resolvePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	subscription := subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		OrgID:              orgID,
		PlanID:             plan.Plan.ID,
		BillingCycle:       req.BillingCycle,
		Status:             subscriptiondomain.SubscriptionStatusPending,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   subscriptiondomain.AdvancePeriod(now, req.BillingCycle),
		CustomerRef:        customerRef,
		Metadata:           req.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		subscription.TrialEndsAt = &trialEnd
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindNonTerminalByOrgForUpdate(ctx, tx, orgID)
		if err != nil {
			return err
		}
		if existing != nil {
			return subscriptiondomain.ErrSubscriptionConflict
		}
		return s.repo.Insert(ctx, tx, &subscription)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, subscriptiondomain.ErrSubscriptionConflict
		}
		return nil, err
	}

	provider, err := s.ledger.CreateSubscription(ctx, ledgerdomain.CreateSubscriptionRequest{
		OperationID:  subscription.ID.String(),
		CustomerRef:  customerRef,
		PlanCode:     plan.Plan.Code,
		BillingCycle: string(req.BillingCycle),
		AmountMinor:  cyclePrice(plan.Plan, req.BillingCycle),
		Currency:     plan.Plan.Currency,
		TrialDays:    req.TrialDays,
	})
	if err != nil {
		s.voidPending(ctx, subscription.ID)
		return nil, err
	}

	if ref := strings.TrimSpace(provider.ExternalRef); ref != "" {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, subscription.ID)
			if err != nil {
				return err
			}
			if current == nil || current.ExternalRef != nil {
				return nil
			}
			current.ExternalRef = &ref
			current.UpdatedAt = s.clock.Now().UTC()
			if err := s.repo.Update(ctx, tx, current); err != nil {
				return err
			}
			subscription = *current
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	s.log.Info("subscription created",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("plan_id", plan.Plan.ID.String()),
	)

	return &subscription, nil
}

// voidPending rolls a pending row to canceled after a failed provider
// call. Best effort; a row left pending is cleaned up by the rollover
// sweep when its period lapses.
func (s *Service) voidPending(ctx context.Context, id snowflake.ID) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current subscriptiondomain.Subscription
		if err := tx.Raw(
			`SELECT id, status FROM subscriptions WHERE id = ?`, id,
		).Scan(&current).Error; err != nil {
			return err
		}
		if current.ID == 0 || current.Status != subscriptiondomain.SubscriptionStatusPending {
			return nil
		}
		now := s.clock.Now().UTC()
		return tx.Exec(
			`UPDATE subscriptions SET status = ?, canceled_at = ?, updated_at = ? WHERE id = ?`,
			subscriptiondomain.SubscriptionStatusCanceled, now, now, id,
		).Error
	})
	if err != nil {
		s.log.Error("failed to void pending subscription",
			zap.String("subscription_id", id.String()),
			zap.Error(err),
		)
	}
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	subscriptionID, err := s.parseID(id, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	subscription, err := s.repo.FindByID(ctx, s.db, orgID, subscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	return *subscription, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) ([]subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	status, err := parseStatusFilter(req.Status)
	if err != nil {
		return nil, err
	}

	return s.repo.List(ctx, s.db, orgID, status)
}

// Update changes the plan or billing cycle. The provider call happens
// inside the transaction holding the row lock; if it fails the local
// write rolls back and the subscription is untouched.
func (s *Service) Update(ctx context.Context, req subscriptiondomain.UpdateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	subscriptionID, err := s.parseID(req.SubscriptionID, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	if req.PlanID == "" && req.BillingCycle == "" {
		return nil, subscriptiondomain.ErrInvalidSubscription
	}
	if req.BillingCycle != "" {
		if err := validateCycle(req.BillingCycle); err != nil {
			return nil, err
		}
	}

	var updated subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Terminal() {
			return subscriptiondomain.ErrSubscriptionTerminal
		}
		if subscription.ExternalRef == nil {
			return subscriptiondomain.ErrSubscriptionConflict
		}

		planID := subscription.PlanID
		planCode := ""
		if req.PlanID != "" {
			plan, err := s.resolvePlan(ctx, req.PlanID)
			if err != nil {
				return err
			}
			planID = plan.Plan.ID
			planCode = plan.Plan.Code
		}
		cycle := subscription.BillingCycle
		if req.BillingCycle != "" {
			cycle = req.BillingCycle
		}

		plan, err := s.plansvc.GetByID(ctx, planID.String())
		if err != nil {
			return err
		}
		if planCode == "" {
			planCode = plan.Plan.Code
		}

		_, err = s.ledger.UpdateSubscription(ctx, ledgerdomain.UpdateSubscriptionRequest{
			OperationID:  fmt.Sprintf("%s:update:%s:%s", subscription.ID, planID, cycle),
			ExternalRef:  *subscription.ExternalRef,
			PlanCode:     planCode,
			BillingCycle: string(cycle),
			AmountMinor:  cyclePrice(plan.Plan, cycle),
			Currency:     plan.Plan.Currency,
		})
		if err != nil {
			return err
		}

		subscription.PlanID = planID
		subscription.BillingCycle = cycle
		subscription.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		updated = *subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}

// Cancel implements domain.Service. Immediate cancellation transitions
// the row now; period-end cancellation only sets the flag, which the
// rollover sweep applies at the boundary.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	subscriptionID, err := s.parseID(req.SubscriptionID, subscriptiondomain.ErrInvalidSubscription)
	if err != nil {
		return nil, err
	}

	if req.Mode != subscriptiondomain.CancelModeImmediate && req.Mode != subscriptiondomain.CancelModePeriodEnd {
		return nil, subscriptiondomain.ErrInvalidCancelMode
	}

	var updated subscriptiondomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, subscriptionID)
		if err != nil {
			return err
		}
		if subscription == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if subscription.Terminal() {
			return subscriptiondomain.ErrSubscriptionTerminal
		}
		if subscription.ExternalRef == nil {
			return subscriptiondomain.ErrSubscriptionConflict
		}

		_, err = s.ledger.CancelSubscription(ctx, ledgerdomain.CancelSubscriptionRequest{
			OperationID: fmt.Sprintf("%s:cancel:%s", subscription.ID, req.Mode),
			ExternalRef: *subscription.ExternalRef,
			AtPeriodEnd: req.Mode == subscriptiondomain.CancelModePeriodEnd,
		})
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		if req.Mode == subscriptiondomain.CancelModeImmediate {
			subscription.Status = subscriptiondomain.SubscriptionStatusCanceled
			subscription.CanceledAt = &now
		} else {
			subscription.CancelAtPeriodEnd = true
		}
		subscription.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, subscription); err != nil {
			return err
		}

		updated = *subscription
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("subscription cancel requested",
		zap.String("org_id", orgID.String()),
		zap.String("subscription_id", updated.ID.String()),
		zap.String("mode", string(req.Mode)),
	)

	return &updated, nil
}

// GetActive implements domain.Service.
func (s *Service) GetActive(ctx context.Context) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	subscription, err := s.repo.FindNonTerminalByOrg(ctx, s.db, orgID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}

	return *subscription, nil
}

// CurrentPeriod implements domain.Service.
func (s *Service) CurrentPeriod(ctx context.Context, t time.Time) (time.Time, time.Time, error) {
	subscription, err := s.GetActive(ctx)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			start, end := calendarMonth(t)
			return start, end, nil
		}
		return time.Time{}, time.Time{}, err
	}

	if !t.Before(subscription.CurrentPeriodStart) && t.Before(subscription.CurrentPeriodEnd) {
		return subscription.CurrentPeriodStart, subscription.CurrentPeriodEnd, nil
	}

	start, end := calendarMonth(t)
	return start, end, nil
}

func (s *Service) resolvePlan(ctx context.Context, planID string) (*plandomain.PlanWithLimits, error) {
	plan, err := s.plansvc.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) || errors.Is(err, plandomain.ErrInvalidPlan) {
			return nil, subscriptiondomain.ErrInvalidPlan
		}
		return nil, err
	}
	return plan, nil
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, invalidErr
	}

	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return 0, invalidErr
	}

	return id, nil
}

func validateCycle(cycle subscriptiondomain.BillingCycle) error {
	switch cycle {
	case subscriptiondomain.BillingCycleMonthly, subscriptiondomain.BillingCycleYearly:
		return nil
	default:
		return subscriptiondomain.ErrInvalidBillingCycle
	}
}

func cyclePrice(plan plandomain.Plan, cycle subscriptiondomain.BillingCycle) int64 {
	if cycle == subscriptiondomain.BillingCycleYearly {
		return plan.YearlyPriceMinor
	}
	return plan.MonthlyPriceMinor
}

func calendarMonth(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func parseStatusFilter(value string) (*subscriptiondomain.SubscriptionStatus, error) {
	status := strings.TrimSpace(strings.ToLower(value))
	if status == "" {
		return nil, nil
	}

	switch subscriptiondomain.SubscriptionStatus(status) {
	case subscriptiondomain.SubscriptionStatusPending,
		subscriptiondomain.SubscriptionStatusTrialing,
		subscriptiondomain.SubscriptionStatusActive,
		subscriptiondomain.SubscriptionStatusPastDue,
		subscriptiondomain.SubscriptionStatusCanceled:
		parsed := subscriptiondomain.SubscriptionStatus(status)
		return &parsed, nil
	default:
		return nil, subscriptiondomain.ErrInvalidStatus
	}
}
