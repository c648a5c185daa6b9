package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	invoicerepository "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/repository"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	subscriptionrepository "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

// -- Mocks --

type reconcileMock struct {
	mock.Mock
}

func (m *reconcileMock) HandleProviderEvent(ctx context.Context, event *ledgerdomain.ProviderEvent) (*reconciledomain.HandleResult, error) {
	args := m.Called(ctx, event)
	return nil, args.Error(1)
}

func (m *reconcileMock) RolloverDuePeriods(ctx context.Context, batchSize int) (int, error) {
	args := m.Called(ctx, batchSize)
	return args.Int(0), args.Error(1)
}

type invoiceMock struct {
	mock.Mock
}

func (m *invoiceMock) ClosePeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoicedomain.InvoiceWithItems, error) {
	args := m.Called(ctx, subscriptionID, periodStart, periodEnd)
	return nil, args.Error(1)
}

func (m *invoiceMock) GetByID(ctx context.Context, id string) (*invoicedomain.InvoiceWithItems, error) {
	return nil, nil
}

func (m *invoiceMock) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	return nil, nil
}

func (m *invoiceMock) Render(ctx context.Context, id string) ([]byte, error) {
	args := m.Called(ctx, id)
	return nil, args.Error(1)
}

func (m *invoiceMock) FinalizeDrafts(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

// -- Fixtures --

type fixture struct {
	db        *gorm.DB
	sched     *Scheduler
	reconcile *reconcileMock
	invoices  *invoiceMock
	genID     *snowflake.Node
}

func newFixture(t *testing.T, dsn string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)

	reconcile := &reconcileMock{}
	invoices := &invoiceMock{}

	holder := &config.BillingConfigHolder{}
	holder.Set(config.DefaultBillingConfig())

	sched, err := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(periodEnd.Add(time.Hour)),
		Billing: holder,

		ReconcileSvc:     reconcile,
		InvoiceSvc:       invoices,
		SubscriptionRepo: subscriptionrepository.Provide(),
		InvoiceRepo:      invoicerepository.Provide(),
	})
	require.NoError(t, err)

	return &fixture{db: db, sched: sched, reconcile: reconcile, invoices: invoices, genID: node}
}

func (f *fixture) seedSubscription(t *testing.T, status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Subscription {
	t.Helper()
	subscription := subscriptiondomain.Subscription{
		ID:                 f.genID.Generate(),
		OrgID:              snowflake.ParseInt64(100),
		PlanID:             snowflake.ParseInt64(900100),
		BillingCycle:       subscriptiondomain.BillingCycleMonthly,
		Status:             status,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		CustomerRef:        "cust_1",
		CreatedAt:          periodStart,
		UpdatedAt:          periodStart,
	}
	require.NoError(t, f.db.Create(&subscription).Error)
	return subscription
}

func hasOrg(want snowflake.ID) any {
	return mock.MatchedBy(func(ctx context.Context) bool {
		orgID, ok := orgcontext.OrgIDFromContext(ctx)
		return ok && orgID == want
	})
}

// -- Tests --

func TestInvoiceJobClosesEndedPeriods(t *testing.T) {
	f := newFixture(t, "file:sched_invoice?mode=memory&cache=shared")
	active := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusActive)
	f.seedSubscription(t, subscriptiondomain.SubscriptionStatusPending)
	f.seedSubscription(t, subscriptiondomain.SubscriptionStatusTrialing)

	f.invoices.On("ClosePeriod", hasOrg(active.OrgID), active.ID.String(), periodStart, periodEnd).
		Return(nil, nil)

	count, err := f.sched.InvoiceJob(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	f.invoices.AssertNumberOfCalls(t, "ClosePeriod", 1)
}

func TestRenderJobRendersFinalizedInvoices(t *testing.T) {
	f := newFixture(t, "file:sched_render?mode=memory&cache=shared")

	invoice := invoicedomain.Invoice{
		ID:             f.genID.Generate(),
		OrgID:          snowflake.ParseInt64(100),
		SubscriptionID: f.genID.Generate(),
		InvoiceNumber:  "INV-1",
		Status:         invoicedomain.InvoiceStatusOpen,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Currency:       "USD",
		CreatedAt:      periodStart,
		UpdatedAt:      periodStart,
	}
	require.NoError(t, f.db.Create(&invoice).Error)

	f.invoices.On("Render", hasOrg(invoice.OrgID), invoice.ID.String()).Return(nil, nil)

	count, err := f.sched.RenderJob(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunOnceRunsJobsInOrder(t *testing.T) {
	f := newFixture(t, "file:sched_runonce?mode=memory&cache=shared")
	policy := config.DefaultBillingConfig()

	f.invoices.On("FinalizeDrafts", mock.Anything, policy.InvoiceBatchSize).Return(0, nil)
	f.reconcile.On("RolloverDuePeriods", mock.Anything, policy.RolloverBatchSize).Return(2, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	f.invoices.AssertCalled(t, "FinalizeDrafts", mock.Anything, policy.InvoiceBatchSize)
	f.reconcile.AssertCalled(t, "RolloverDuePeriods", mock.Anything, policy.RolloverBatchSize)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	f := newFixture(t, "file:sched_enabled?mode=memory&cache=shared")
	f.sched.cfg.EnabledJobs = []string{"rollover"}

	f.reconcile.On("RolloverDuePeriods", mock.Anything, mock.Anything).Return(0, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	f.reconcile.AssertCalled(t, "RolloverDuePeriods", mock.Anything, mock.Anything)
	f.invoices.AssertNotCalled(t, "FinalizeDrafts", mock.Anything, mock.Anything)
}

func TestRunOnceSurfacesJobErrors(t *testing.T) {
	f := newFixture(t, "file:sched_errors?mode=memory&cache=shared")

	f.invoices.On("FinalizeDrafts", mock.Anything, mock.Anything).Return(0, nil)
	f.reconcile.On("RolloverDuePeriods", mock.Anything, mock.Anything).
		Return(0, assert.AnError)

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rollover")
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
