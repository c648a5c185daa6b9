package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"go.uber.org/zap"
)

type fakeUsageService struct {
	recordErr error
	record    *usagedomain.UsageRecord
	calls     int
}

func (f *fakeUsageService) Record(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	f.calls++
	_ = ctx
	if f.recordErr != nil {
		return nil, f.recordErr
	}
	if f.record != nil {
		return f.record, nil
	}
	return &usagedomain.UsageRecord{ResourceType: req.ResourceType, Quantity: req.Quantity}, nil
}

func (f *fakeUsageService) RecordBatch(ctx context.Context, reqs []usagedomain.RecordUsageRequest) []usagedomain.RecordUsageResult {
	_ = ctx
	results := make([]usagedomain.RecordUsageResult, 0, len(reqs))
	for i, req := range reqs {
		results = append(results, usagedomain.RecordUsageResult{
			Index:    i,
			Accepted: true,
			Record:   &usagedomain.UsageRecord{ResourceType: req.ResourceType, Quantity: req.Quantity},
		})
	}
	return results
}

func (f *fakeUsageService) CheckQuota(ctx context.Context, resourceType string, quantity int64) (usagedomain.QuotaStatus, error) {
	_ = ctx
	_ = quantity
	return usagedomain.QuotaStatus{ResourceType: resourceType, Allowed: true}, nil
}

func (f *fakeUsageService) ListSummaries(ctx context.Context, req usagedomain.ListSummariesRequest) ([]usagedomain.UsageSummary, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeUsageService) RebuildSummary(ctx context.Context, subscriptionID, resourceType string, periodStart, periodEnd time.Time) (*usagedomain.UsageSummary, error) {
	_ = ctx
	_ = subscriptionID
	_ = resourceType
	_ = periodStart
	_ = periodEnd
	return nil, nil
}

type fakeSubscriptionService struct {
	getErr    error
	createErr error
}

func (f *fakeSubscriptionService) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	_ = ctx
	_ = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &subscriptiondomain.Subscription{ID: snowflake.ID(1)}, nil
}

func (f *fakeSubscriptionService) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	_ = ctx
	_ = id
	if f.getErr != nil {
		return subscriptiondomain.Subscription{}, f.getErr
	}
	return subscriptiondomain.Subscription{ID: snowflake.ID(1)}, nil
}

func (f *fakeSubscriptionService) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) ([]subscriptiondomain.Subscription, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeSubscriptionService) Update(ctx context.Context, req subscriptiondomain.UpdateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeSubscriptionService) Cancel(ctx context.Context, req subscriptiondomain.CancelSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeSubscriptionService) GetActive(ctx context.Context) (subscriptiondomain.Subscription, error) {
	_ = ctx
	return subscriptiondomain.Subscription{}, nil
}

func (f *fakeSubscriptionService) CurrentPeriod(ctx context.Context, t time.Time) (time.Time, time.Time, error) {
	_ = ctx
	return t, t, nil
}

type fakeInvoiceService struct {
	pdf       []byte
	renderErr error
}

func (f *fakeInvoiceService) ClosePeriod(ctx context.Context, subscriptionID string, periodStart, periodEnd time.Time) (*invoicedomain.InvoiceWithItems, error) {
	_ = ctx
	_ = subscriptionID
	_ = periodStart
	_ = periodEnd
	return nil, nil
}

func (f *fakeInvoiceService) GetByID(ctx context.Context, id string) (*invoicedomain.InvoiceWithItems, error) {
	_ = ctx
	_ = id
	return nil, nil
}

func (f *fakeInvoiceService) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeInvoiceService) Render(ctx context.Context, id string) ([]byte, error) {
	_ = ctx
	_ = id
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return f.pdf, nil
}

func (f *fakeInvoiceService) FinalizeDrafts(ctx context.Context, limit int) (int, error) {
	_ = ctx
	_ = limit
	return 0, nil
}

type fakeReconcileService struct {
	result    *reconciledomain.HandleResult
	handleErr error
	events    []*ledgerdomain.ProviderEvent
}

func (f *fakeReconcileService) HandleProviderEvent(ctx context.Context, event *ledgerdomain.ProviderEvent) (*reconciledomain.HandleResult, error) {
	_ = ctx
	f.events = append(f.events, event)
	if f.handleErr != nil {
		return nil, f.handleErr
	}
	return f.result, nil
}

func (f *fakeReconcileService) RolloverDuePeriods(ctx context.Context, batchSize int) (int, error) {
	_ = ctx
	_ = batchSize
	return 0, nil
}

type fakeLedgerClient struct {
	verifyErr error
	parseErr  error
	event     *ledgerdomain.ProviderEvent
}

func (f *fakeLedgerClient) CreateSubscription(ctx context.Context, req ledgerdomain.CreateSubscriptionRequest) (*ledgerdomain.ProviderSubscription, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeLedgerClient) UpdateSubscription(ctx context.Context, req ledgerdomain.UpdateSubscriptionRequest) (*ledgerdomain.ProviderSubscription, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeLedgerClient) CancelSubscription(ctx context.Context, req ledgerdomain.CancelSubscriptionRequest) (*ledgerdomain.ProviderSubscription, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeLedgerClient) CreateInvoice(ctx context.Context, req ledgerdomain.CreateInvoiceRequest) (*ledgerdomain.ProviderInvoice, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeLedgerClient) PayInvoice(ctx context.Context, req ledgerdomain.PayInvoiceRequest) (*ledgerdomain.ProviderInvoice, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeLedgerClient) RefundPayment(ctx context.Context, req ledgerdomain.RefundPaymentRequest) (*ledgerdomain.ProviderRefund, error) {
	_ = ctx
	_ = req
	return nil, nil
}

func (f *fakeLedgerClient) VerifyWebhook(payload []byte, headers http.Header) error {
	_ = payload
	_ = headers
	return f.verifyErr
}

func (f *fakeLedgerClient) ParseWebhook(payload []byte) (*ledgerdomain.ProviderEvent, error) {
	_ = payload
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

func newTestServer(t *testing.T, configure func(*Server)) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv := &Server{
		log:             zap.NewNop(),
		subscriptionSvc: &fakeSubscriptionService{},
		usageSvc:        &fakeUsageService{},
		invoiceSvc:      &fakeInvoiceService{},
		reconcileSvc:    &fakeReconcileService{},
		ledgerClient:    &fakeLedgerClient{},
	}
	if configure != nil {
		configure(srv)
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	srv.engine = router
	srv.registerAPIRoutes()
	srv.registerWebhookRoutes()

	return srv, router
}

func doJSON(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

var orgHeader = map[string]string{HeaderOrg: snowflake.ID(100).String()}

func TestOrgHeaderRequired(t *testing.T) {
	usageSvc := &fakeUsageService{}
	_, router := newTestServer(t, func(s *Server) {
		s.usageSvc = usageSvc
	})

	resp := doJSON(router, http.MethodPost, "/api/usage", `{"resource_type":"email_sends","quantity":1}`, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if usageSvc.calls != 0 {
		t.Fatal("expected usage service not to be called without an org header")
	}

	resp = doJSON(router, http.MethodPost, "/api/usage", `{"resource_type":"email_sends","quantity":1}`, map[string]string{HeaderOrg: "not-a-snowflake"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed header, got %d", resp.Code)
	}
}

func TestRecordUsageReturnsRecord(t *testing.T) {
	_, router := newTestServer(t, nil)

	resp := doJSON(router, http.MethodPost, "/api/usage", `{"resource_type":"email_sends","quantity":3}`, orgHeader)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var record usagedomain.UsageRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if record.Quantity != 3 {
		t.Fatalf("expected quantity 3, got %d", record.Quantity)
	}
}

func TestRecordUsageQuotaExceeded(t *testing.T) {
	_, router := newTestServer(t, func(s *Server) {
		s.usageSvc = &fakeUsageService{recordErr: &usagedomain.QuotaExceededError{
			ResourceType: "email_sends",
			Current:      95,
			Limit:        100,
			Requested:    10,
		}}
	})

	resp := doJSON(router, http.MethodPost, "/api/usage", `{"resource_type":"email_sends","quantity":10}`, orgHeader)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", resp.Code, resp.Body.String())
	}

	var body errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Error.Type != "quota_exceeded" {
		t.Fatalf("expected quota_exceeded, got %q", body.Error.Type)
	}
	if remaining, ok := body.Error.Details["remaining"].(float64); !ok || remaining != 5 {
		t.Fatalf("expected remaining 5, got %v", body.Error.Details["remaining"])
	}
}

func TestRecordUsageBatchBounded(t *testing.T) {
	_, router := newTestServer(t, nil)

	resp := doJSON(router, http.MethodPost, "/api/usage/batch", `[]`, orgHeader)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty batch, got %d", resp.Code)
	}

	resp = doJSON(router, http.MethodPost, "/api/usage/batch", `[{"resource_type":"email_sends","quantity":1}]`, orgHeader)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestGetSubscriptionNotFound(t *testing.T) {
	_, router := newTestServer(t, func(s *Server) {
		s.subscriptionSvc = &fakeSubscriptionService{getErr: subscriptiondomain.ErrSubscriptionNotFound}
	})

	resp := doJSON(router, http.MethodGet, "/api/subscriptions/123", "", orgHeader)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestCreateSubscriptionConflict(t *testing.T) {
	_, router := newTestServer(t, func(s *Server) {
		s.subscriptionSvc = &fakeSubscriptionService{createErr: subscriptiondomain.ErrSubscriptionConflict}
	})

	resp := doJSON(router, http.MethodPost, "/api/subscriptions", `{"plan_id":"1","billing_cycle":"monthly","customer_ref":"cus_1"}`, orgHeader)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestRenderInvoiceServesPDF(t *testing.T) {
	_, router := newTestServer(t, func(s *Server) {
		s.invoiceSvc = &fakeInvoiceService{pdf: []byte("%PDF-1.7 fake")}
	})

	resp := doJSON(router, http.MethodGet, "/api/invoices/55/render", "", orgHeader)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if got := resp.Header().Get("Content-Type"); got != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", got)
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("expected PDF payload")
	}
}

func TestLedgerWebhookRejectsBadSignature(t *testing.T) {
	reconcileSvc := &fakeReconcileService{}
	_, router := newTestServer(t, func(s *Server) {
		s.reconcileSvc = reconcileSvc
		s.ledgerClient = &fakeLedgerClient{verifyErr: ledgerdomain.ErrInvalidSignature}
	})

	resp := doJSON(router, http.MethodPost, "/api/webhooks/ledger", `{"id":"evt_1"}`, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if len(reconcileSvc.events) != 0 {
		t.Fatal("expected event not to reach reconciliation")
	}
}

func TestLedgerWebhookUnmatchedEventRetryable(t *testing.T) {
	_, router := newTestServer(t, func(s *Server) {
		s.ledgerClient = &fakeLedgerClient{event: &ledgerdomain.ProviderEvent{
			ID:        "evt_1",
			Type:      "subscription.updated",
			CreatedAt: time.Now(),
		}}
		s.reconcileSvc = &fakeReconcileService{handleErr: reconciledomain.ErrEventUnmatched}
	})

	resp := doJSON(router, http.MethodPost, "/api/webhooks/ledger", `{"id":"evt_1"}`, nil)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 so the provider retries, got %d", resp.Code)
	}
}

func TestLedgerWebhookReportsOutcome(t *testing.T) {
	subID := snowflake.ID(42)
	_, router := newTestServer(t, func(s *Server) {
		s.ledgerClient = &fakeLedgerClient{event: &ledgerdomain.ProviderEvent{
			ID:        "evt_1",
			Type:      "subscription.updated",
			CreatedAt: time.Now(),
		}}
		s.reconcileSvc = &fakeReconcileService{result: &reconciledomain.HandleResult{
			Outcome:        reconciledomain.EventOutcomeApplied,
			SubscriptionID: &subID,
		}}
	})

	resp := doJSON(router, http.MethodPost, "/api/webhooks/ledger", `{"id":"evt_1"}`, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body["outcome"] != string(reconciledomain.EventOutcomeApplied) {
		t.Fatalf("expected applied outcome, got %v", body["outcome"])
	}
	if body["subscription_id"] != subID.String() {
		t.Fatalf("expected subscription id %s, got %v", subID, body["subscription_id"])
	}
}
