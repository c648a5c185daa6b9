package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// webhookNow matches the t= value the signature tests sign with.
const webhookNow = int64(1700000000)

func newTestClient(t *testing.T, baseURL string) ledgerdomain.Client {
	t.Helper()

	return NewClient(ClientParam{
		Config: config.Config{
			Ledger: config.LedgerConfig{
				BaseURL:          baseURL,
				APIKey:           "sk_test_123",
				WebhookSecret:    "whsec_test",
				Timeout:          2 * time.Second,
				WebhookTolerance: 5 * time.Minute,
			},
		},
		Clock: clock.NewFakeClock(time.Unix(webhookNow, 0)),
		Log:   zap.NewNop(),
	})
}

func TestCreateSubscriptionSendsIdempotencyKey(t *testing.T) {
	var seenKeys []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		seenKeys = append(seenKeys, r.Header.Get("Idempotency-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pro", body["plan_code"])

		json.NewEncoder(w).Encode(ledgerdomain.ProviderSubscription{
			ExternalRef: "sub_ext_1",
			CustomerRef: "cust_1",
			Status:      "active",
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	req := ledgerdomain.CreateSubscriptionRequest{
		OperationID:  "op-42",
		CustomerRef:  "cust_1",
		PlanCode:     "pro",
		BillingCycle: "monthly",
		AmountMinor:  4900,
		Currency:     "USD",
	}

	first, err := client.CreateSubscription(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sub_ext_1", first.ExternalRef)

	_, err = client.CreateSubscription(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, seenKeys, 2)
	assert.NotEmpty(t, seenKeys[0])
	// Same operation id, same key: provider-side retries are safe.
	assert.Equal(t, seenKeys[0], seenKeys[1])
}

func TestProviderServerErrorMapsToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CreateSubscription(context.Background(), ledgerdomain.CreateSubscriptionRequest{
		OperationID: "op-1",
		CustomerRef: "cust_1",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrProviderUnavailable)
}

func TestProviderClientErrorMapsToRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": "invalid_plan", "message": "unknown plan"},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CancelSubscription(context.Background(), ledgerdomain.CancelSubscriptionRequest{
		OperationID: "op-2",
		ExternalRef: "sub_ext_1",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrProviderRejected)
}

func TestUnreachableProviderMapsToUnavailable(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	_, err := client.PayInvoice(context.Background(), ledgerdomain.PayInvoiceRequest{
		OperationID: "op-3",
		InvoiceRef:  "inv_1",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrProviderUnavailable)
}

func TestVerifyWebhook(t *testing.T) {
	client := newTestClient(t, "http://unused")
	payload := []byte(`{"id":"evt_1","type":"subscription.updated"}`)

	headers := http.Header{}
	headers.Set(SignatureHeader, "t=1700000000,v1="+Sign("whsec_test", "1700000000", payload))
	assert.NoError(t, client.VerifyWebhook(payload, headers))

	badHeaders := http.Header{}
	badHeaders.Set(SignatureHeader, "t=1700000000,v1="+Sign("wrong_secret", "1700000000", payload))
	assert.ErrorIs(t, client.VerifyWebhook(payload, badHeaders), ledgerdomain.ErrInvalidSignature)

	assert.ErrorIs(t, client.VerifyWebhook(payload, http.Header{}), ledgerdomain.ErrInvalidSignature)

	garbled := http.Header{}
	garbled.Set(SignatureHeader, "not-a-signature")
	assert.ErrorIs(t, client.VerifyWebhook(payload, garbled), ledgerdomain.ErrInvalidSignature)
}

func TestVerifyWebhookRejectsStaleTimestamp(t *testing.T) {
	client := newTestClient(t, "http://unused")
	payload := []byte(`{"id":"evt_1","type":"subscription.updated"}`)

	sign := func(at int64) http.Header {
		stamp := strconv.FormatInt(at, 10)
		headers := http.Header{}
		headers.Set(SignatureHeader, "t="+stamp+",v1="+Sign("whsec_test", stamp, payload))
		return headers
	}

	// A correctly signed payload replayed years later must not verify.
	assert.ErrorIs(t, client.VerifyWebhook(payload, sign(webhookNow-5*365*24*3600)),
		ledgerdomain.ErrInvalidSignature)

	assert.ErrorIs(t, client.VerifyWebhook(payload, sign(webhookNow-301)),
		ledgerdomain.ErrInvalidSignature)
	assert.ErrorIs(t, client.VerifyWebhook(payload, sign(webhookNow+301)),
		ledgerdomain.ErrInvalidSignature)

	assert.NoError(t, client.VerifyWebhook(payload, sign(webhookNow-120)))
	assert.NoError(t, client.VerifyWebhook(payload, sign(webhookNow+120)))

	nonNumeric := http.Header{}
	nonNumeric.Set(SignatureHeader, "t=yesterday,v1="+Sign("whsec_test", "yesterday", payload))
	assert.ErrorIs(t, client.VerifyWebhook(payload, nonNumeric), ledgerdomain.ErrInvalidSignature)
}

func TestParseWebhook(t *testing.T) {
	client := newTestClient(t, "http://unused")

	event, err := client.ParseWebhook([]byte(`{
		"id": "evt_1",
		"type": "subscription.updated",
		"created_at": "2026-03-01T12:00:00Z",
		"data": {"subscription_ref": "sub_ext_1", "status": "active"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, ledgerdomain.EventSubscriptionUpdated, event.Type)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), event.CreatedAt)

	var data ledgerdomain.SubscriptionEventData
	require.NoError(t, json.Unmarshal(event.Data, &data))
	assert.Equal(t, "sub_ext_1", data.ExternalRef)

	_, err = client.ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPayload)

	_, err = client.ParseWebhook([]byte(`{"type":"x","created_at":"2026-03-01T12:00:00Z"}`))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEvent)

	_, err = client.ParseWebhook([]byte(`{"id":"evt_2","type":"x"}`))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidEvent)
}
