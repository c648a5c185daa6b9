// Package ledger implements the HTTP adapter to the ledger provider.
package ledger

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's webhook signature in the form
// "t=<unix>,v1=<hex hmac-sha256 of '<unix>.<payload>'>".
const SignatureHeader = "Ledger-Signature"

type httpClient struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	tolerance     time.Duration
	client        *http.Client
	clock         clock.Clock
	log           *zap.Logger
}

type ClientParam struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewClient(p ClientParam) ledgerdomain.Client {
	timeout := p.Config.Ledger.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := p.Config.Ledger.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}

	return &httpClient{
		baseURL:       strings.TrimRight(p.Config.Ledger.BaseURL, "/"),
		apiKey:        strings.TrimSpace(p.Config.Ledger.APIKey),
		webhookSecret: strings.TrimSpace(p.Config.Ledger.WebhookSecret),
		tolerance:     tolerance,
		client:        &http.Client{Timeout: timeout},
		clock:         p.Clock,
		log:           p.Log.Named("ledger.client"),
	}
}

func (c *httpClient) CreateSubscription(ctx context.Context, req ledgerdomain.CreateSubscriptionRequest) (*ledgerdomain.ProviderSubscription, error) {
	var out ledgerdomain.ProviderSubscription
	if err := c.doRequest(ctx, http.MethodPost, "/v1/subscriptions", req, req.OperationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) UpdateSubscription(ctx context.Context, req ledgerdomain.UpdateSubscriptionRequest) (*ledgerdomain.ProviderSubscription, error) {
	if strings.TrimSpace(req.ExternalRef) == "" {
		return nil, ledgerdomain.ErrProviderRejected
	}
	var out ledgerdomain.ProviderSubscription
	if err := c.doRequest(ctx, http.MethodPost, "/v1/subscriptions/"+req.ExternalRef, req, req.OperationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) CancelSubscription(ctx context.Context, req ledgerdomain.CancelSubscriptionRequest) (*ledgerdomain.ProviderSubscription, error) {
	if strings.TrimSpace(req.ExternalRef) == "" {
		return nil, ledgerdomain.ErrProviderRejected
	}
	var out ledgerdomain.ProviderSubscription
	if err := c.doRequest(ctx, http.MethodPost, "/v1/subscriptions/"+req.ExternalRef+"/cancel", req, req.OperationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) CreateInvoice(ctx context.Context, req ledgerdomain.CreateInvoiceRequest) (*ledgerdomain.ProviderInvoice, error) {
	var out ledgerdomain.ProviderInvoice
	if err := c.doRequest(ctx, http.MethodPost, "/v1/invoices", req, req.OperationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) PayInvoice(ctx context.Context, req ledgerdomain.PayInvoiceRequest) (*ledgerdomain.ProviderInvoice, error) {
	if strings.TrimSpace(req.InvoiceRef) == "" {
		return nil, ledgerdomain.ErrProviderRejected
	}
	var out ledgerdomain.ProviderInvoice
	if err := c.doRequest(ctx, http.MethodPost, "/v1/invoices/"+req.InvoiceRef+"/pay", req, req.OperationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) RefundPayment(ctx context.Context, req ledgerdomain.RefundPaymentRequest) (*ledgerdomain.ProviderRefund, error) {
	if strings.TrimSpace(req.PaymentRef) == "" {
		return nil, ledgerdomain.ErrProviderRejected
	}
	var out ledgerdomain.ProviderRefund
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payments/"+req.PaymentRef+"/refund", req, req.OperationID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) VerifyWebhook(payload []byte, headers http.Header) error {
	if c.webhookSecret == "" {
		return ledgerdomain.ErrInvalidSignature
	}

	sigHeader := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHeader == "" {
		return ledgerdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignature(sigHeader)
	if err != nil {
		return ledgerdomain.ErrInvalidSignature
	}

	// The signed timestamp bounds the replay window. A captured payload
	// keeps a valid MAC forever, so drift beyond the tolerance fails.
	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ledgerdomain.ErrInvalidSignature
	}
	if drift := c.clock.Now().Sub(time.Unix(signedAt, 0)); drift > c.tolerance || drift < -c.tolerance {
		return ledgerdomain.ErrInvalidSignature
	}

	expected := Sign(c.webhookSecret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return ledgerdomain.ErrInvalidSignature
}

func (c *httpClient) ParseWebhook(payload []byte) (*ledgerdomain.ProviderEvent, error) {
	var event ledgerdomain.ProviderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, ledgerdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Type) == "" {
		return nil, ledgerdomain.ErrInvalidEvent
	}
	if event.CreatedAt.IsZero() {
		return nil, ledgerdomain.ErrInvalidEvent
	}
	return &event, nil
}

type providerErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *httpClient) doRequest(ctx context.Context, method, path string, body any, operationID string, out any) error {
	if c.apiKey == "" {
		return ledgerdomain.ErrProviderUnavailable
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if key := idempotencyKey(operationID); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("provider call failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return ledgerdomain.ErrProviderUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		c.log.Warn("provider returned server error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return ledgerdomain.ErrProviderUnavailable
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var providerErr providerErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&providerErr); err == nil && providerErr.Error.Message != "" {
			c.log.Warn("provider rejected request",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
				zap.String("code", providerErr.Error.Code),
				zap.String("message", providerErr.Error.Message),
			)
		}
		return ledgerdomain.ErrProviderRejected
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ledgerdomain.ErrInvalidPayload
	}
	return nil
}

// idempotencyKey derives a stable uuid from the local operation id so
// retrying the same operation reuses the same provider-side key.
func idempotencyKey(operationID string) string {
	operationID = strings.TrimSpace(operationID)
	if operationID == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("ledger-op:"+operationID)).String()
}

// Sign computes the v1 signature over "<timestamp>.<payload>".
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%s.%s", timestamp, string(payload))))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ledgerdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
