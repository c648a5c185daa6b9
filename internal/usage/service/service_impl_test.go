package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Mocks --

type planMock struct {
	mock.Mock
}

func (m *planMock) Create(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.PlanWithLimits, error) {
	return nil, nil
}

func (m *planMock) GetByID(ctx context.Context, id string) (*plandomain.PlanWithLimits, error) {
	return nil, nil
}

func (m *planMock) List(ctx context.Context, req plandomain.ListPlanRequest) ([]plandomain.PlanWithLimits, error) {
	return nil, nil
}

func (m *planMock) Archive(ctx context.Context, id string) error { return nil }

func (m *planMock) Limit(ctx context.Context, planID, resourceType string) (plandomain.PlanLimit, bool, error) {
	args := m.Called(ctx, planID, resourceType)
	return args.Get(0).(plandomain.PlanLimit), args.Bool(1), args.Error(2)
}

type subscriptionMock struct {
	mock.Mock
}

func (m *subscriptionMock) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (m *subscriptionMock) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	return subscriptiondomain.Subscription{}, nil
}

func (m *subscriptionMock) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) ([]subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (m *subscriptionMock) Update(ctx context.Context, req subscriptiondomain.UpdateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (m *subscriptionMock) Cancel(ctx context.Context, req subscriptiondomain.CancelSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	return nil, nil
}

func (m *subscriptionMock) GetActive(ctx context.Context) (subscriptiondomain.Subscription, error) {
	args := m.Called(ctx)
	return args.Get(0).(subscriptiondomain.Subscription), args.Error(1)
}

func (m *subscriptionMock) CurrentPeriod(ctx context.Context, t time.Time) (time.Time, time.Time, error) {
	return time.Time{}, time.Time{}, nil
}

// -- Fixtures --

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db   *gorm.DB
	svc  usagedomain.Service
	subs *subscriptionMock
	plan *planMock
}

func newFixture(t *testing.T, dsn string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&usagedomain.UsageRecord{}, &usagedomain.UsageSummary{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	plan := &planMock{}
	subs := &subscriptionMock{}

	svc := NewService(ServiceParam{
		DB:              db,
		Log:             zap.NewNop(),
		GenID:           node,
		Clock:           clock.NewFakeClock(periodStart.Add(time.Hour)),
		Repo:            repository.Provide(),
		Plansvc:         plan,
		Subscriptionsvc: subs,
	})

	return &fixture{db: db, svc: svc, subs: subs, plan: plan}
}

func (f *fixture) withActiveSubscription() subscriptiondomain.Subscription {
	subscription := subscriptiondomain.Subscription{
		ID:                 snowflake.ParseInt64(700100),
		OrgID:              snowflake.ParseInt64(100),
		PlanID:             snowflake.ParseInt64(900100),
		Status:             subscriptiondomain.SubscriptionStatusActive,
		BillingCycle:       subscriptiondomain.BillingCycleMonthly,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
	}
	f.subs.On("GetActive", mock.Anything).Return(subscription, nil)
	return subscription
}

func (f *fixture) withLimit(included *int64, overageMicros int64) {
	f.plan.On("Limit", mock.Anything, "900100", mock.Anything).Return(plandomain.PlanLimit{
		PlanID:                 snowflake.ParseInt64(900100),
		ResourceType:           "email_sends",
		MaxQuantity:            included,
		OverageUnitPriceMicros: overageMicros,
	}, true, nil)
}

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), 100)
}

func (f *fixture) summary(t *testing.T, resourceType string) usagedomain.UsageSummary {
	t.Helper()
	var summary usagedomain.UsageSummary
	require.NoError(t, f.db.Raw(
		`SELECT * FROM usage_summaries WHERE resource_type = ? AND period_start = ?`,
		resourceType, periodStart,
	).Scan(&summary).Error)
	return summary
}

func ptrInt64(v int64) *int64 { return &v }

// -- Tests --

func TestRecordAccumulatesSummary(t *testing.T) {
	f := newFixture(t, "file:usage_accumulate?mode=memory&cache=shared")
	f.withActiveSubscription()
	f.withLimit(ptrInt64(100), 500_000)

	for i := 0; i < 3; i++ {
		_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
			ResourceType: "email_sends",
			Quantity:     10,
		})
		require.NoError(t, err)
	}

	summary := f.summary(t, "email_sends")
	assert.Equal(t, int64(30), summary.UsedQuantity)
	assert.Zero(t, summary.OverageQuantity)
	assert.Zero(t, summary.OverageAmountMinor)
	assert.Equal(t, usagedomain.SummaryStatusPending, summary.Status)
	assert.Equal(t, periodEnd, summary.PeriodEnd.UTC())
}

func TestRecordComputesOverage(t *testing.T) {
	f := newFixture(t, "file:usage_overage?mode=memory&cache=shared")
	f.withActiveSubscription()
	// included 100, overage at $0.50/unit.
	f.withLimit(ptrInt64(100), 500_000)

	_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     130,
	})
	require.NoError(t, err)

	summary := f.summary(t, "email_sends")
	assert.Equal(t, int64(130), summary.UsedQuantity)
	assert.Equal(t, int64(30), summary.OverageQuantity)
	assert.Equal(t, int64(1500), summary.OverageAmountMinor)
}

func TestRecordScenarioThousandThenFifty(t *testing.T) {
	f := newFixture(t, "file:usage_scenario?mode=memory&cache=shared")
	f.withActiveSubscription()
	// included 1000, overage at $0.01/unit.
	f.withLimit(ptrInt64(1000), 10_000)

	for i := 0; i < 1000; i++ {
		_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
			ResourceType: "email_sends",
			Quantity:     1,
		})
		require.NoError(t, err)
	}

	summary := f.summary(t, "email_sends")
	assert.Equal(t, int64(1000), summary.UsedQuantity)
	assert.Zero(t, summary.OverageQuantity)

	_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     50,
	})
	require.NoError(t, err)

	summary = f.summary(t, "email_sends")
	assert.Equal(t, int64(1050), summary.UsedQuantity)
	assert.Equal(t, int64(50), summary.OverageQuantity)
	assert.Equal(t, int64(50), summary.OverageAmountMinor)
}

func TestRecordHardCapRejects(t *testing.T) {
	f := newFixture(t, "file:usage_hardcap?mode=memory&cache=shared")
	f.withActiveSubscription()
	// included 5, no overage price: hard cap.
	f.withLimit(ptrInt64(5), 0)

	_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     5,
	})
	require.NoError(t, err)

	_, err = f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     1,
	})
	var quotaErr *usagedomain.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, int64(5), quotaErr.Current)
	assert.Equal(t, int64(5), quotaErr.Limit)
	assert.Equal(t, int64(1), quotaErr.Requested)
	assert.Zero(t, quotaErr.Remaining())

	// The rejected increment left no trace: neither record nor summary.
	var recordCount int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM usage_records`).Scan(&recordCount).Error)
	assert.Equal(t, int64(1), recordCount)

	summary := f.summary(t, "email_sends")
	assert.Equal(t, int64(5), summary.UsedQuantity)
}

func TestRecordIdempotencyKey(t *testing.T) {
	f := newFixture(t, "file:usage_idem?mode=memory&cache=shared")
	f.withActiveSubscription()
	f.withLimit(ptrInt64(100), 500_000)

	first, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType:   "email_sends",
		Quantity:       10,
		IdempotencyKey: "evt-dup",
	})
	require.NoError(t, err)

	second, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType:   "email_sends",
		Quantity:       10,
		IdempotencyKey: "evt-dup",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	summary := f.summary(t, "email_sends")
	assert.Equal(t, int64(10), summary.UsedQuantity)
}

func TestRecordBatchPartialSuccess(t *testing.T) {
	f := newFixture(t, "file:usage_batch?mode=memory&cache=shared")
	f.withActiveSubscription()
	f.withLimit(ptrInt64(10), 0)

	results := f.svc.RecordBatch(orgCtx(), []usagedomain.RecordUsageRequest{
		{ResourceType: "email_sends", Quantity: 6},
		{ResourceType: "email_sends", Quantity: 6},
		{ResourceType: "email_sends", Quantity: 4},
		{ResourceType: "email_sends", Quantity: -1},
	})
	require.Len(t, results, 4)

	assert.True(t, results[0].Accepted)
	assert.False(t, results[1].Accepted)
	assert.Contains(t, results[1].Error, "quota_exceeded")
	assert.True(t, results[2].Accepted)
	assert.False(t, results[3].Accepted)

	summary := f.summary(t, "email_sends")
	assert.Equal(t, int64(10), summary.UsedQuantity)
}

func TestRecordUnmeteredResource(t *testing.T) {
	f := newFixture(t, "file:usage_unmetered?mode=memory&cache=shared")
	f.withActiveSubscription()
	f.plan.On("Limit", mock.Anything, mock.Anything, mock.Anything).
		Return(plandomain.PlanLimit{}, false, nil)

	_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "widgets",
		Quantity:     1_000_000,
	})
	require.NoError(t, err)

	summary := f.summary(t, "widgets")
	assert.Equal(t, int64(1_000_000), summary.UsedQuantity)
	assert.Nil(t, summary.IncludedQuantity)
	assert.Zero(t, summary.OverageAmountMinor)
}

func TestRecordNoActiveSubscription(t *testing.T) {
	f := newFixture(t, "file:usage_nosub?mode=memory&cache=shared")
	f.subs.On("GetActive", mock.Anything).
		Return(subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound)

	_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrNoActiveSubscription)
}

func TestCheckQuotaMatchesWritePath(t *testing.T) {
	f := newFixture(t, "file:usage_quota?mode=memory&cache=shared")
	f.withActiveSubscription()
	f.withLimit(ptrInt64(10), 0)

	status, err := f.svc.CheckQuota(orgCtx(), "email_sends", 10)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
	assert.Zero(t, status.Used)
	assert.Equal(t, int64(10), *status.Remaining)

	_, err = f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     8,
	})
	require.NoError(t, err)

	status, err = f.svc.CheckQuota(orgCtx(), "email_sends", 3)
	require.NoError(t, err)
	assert.False(t, status.Allowed)
	assert.Equal(t, int64(8), status.Used)
	assert.Equal(t, int64(2), *status.Remaining)
	assert.False(t, status.OverageAllowed)

	status, err = f.svc.CheckQuota(orgCtx(), "email_sends", 2)
	require.NoError(t, err)
	assert.True(t, status.Allowed)
}

func TestRebuildSummaryConservation(t *testing.T) {
	f := newFixture(t, "file:usage_rebuild?mode=memory&cache=shared")
	f.withActiveSubscription()
	f.withLimit(ptrInt64(100), 500_000)

	quantities := []int64{10, 20, 30, 70}
	for _, q := range quantities {
		_, err := f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
			ResourceType: "email_sends",
			Quantity:     q,
		})
		require.NoError(t, err)
	}

	before := f.summary(t, "email_sends")

	// Corrupt the rollup, then rebuild from the immutable records.
	require.NoError(t, f.db.Exec(
		`UPDATE usage_summaries SET used_quantity = 1, overage_quantity = 0, overage_amount_minor = 0 WHERE id = ?`,
		before.ID,
	).Error)

	rebuilt, err := f.svc.RebuildSummary(orgCtx(), "700100", "email_sends", periodStart, periodEnd)
	require.NoError(t, err)

	assert.Equal(t, before.UsedQuantity, rebuilt.UsedQuantity)
	assert.Equal(t, before.OverageQuantity, rebuilt.OverageQuantity)
	assert.Equal(t, before.OverageAmountMinor, rebuilt.OverageAmountMinor)
	assert.Equal(t, int64(130), rebuilt.UsedQuantity)
	assert.Equal(t, int64(30), rebuilt.OverageQuantity)
	assert.Equal(t, int64(1500), rebuilt.OverageAmountMinor)
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t, "file:usage_validation?mode=memory&cache=shared")

	_, err := f.svc.Record(context.Background(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidOrganization)

	_, err = f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{Quantity: 1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidResourceType)

	_, err = f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     -1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidQuantity)

	propagated := errors.New("boom")
	f.subs.On("GetActive", mock.Anything).Return(subscriptiondomain.Subscription{}, propagated)
	_, err = f.svc.Record(orgCtx(), usagedomain.RecordUsageRequest{
		ResourceType: "email_sends",
		Quantity:     1,
	})
	assert.ErrorIs(t, err, propagated)
}
