package domain

import (
	"context"
	"errors"
	"net/http"
)

// Client is the outbound adapter to the ledger provider. Every call is
// synchronous and bounded; a failed or timed-out call leaves no trace in
// local state.
type Client interface {
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*ProviderSubscription, error)
	UpdateSubscription(ctx context.Context, req UpdateSubscriptionRequest) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, req CancelSubscriptionRequest) (*ProviderSubscription, error)
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error)
	PayInvoice(ctx context.Context, req PayInvoiceRequest) (*ProviderInvoice, error)
	RefundPayment(ctx context.Context, req RefundPaymentRequest) (*ProviderRefund, error)

	VerifyWebhook(payload []byte, headers http.Header) error
	ParseWebhook(payload []byte) (*ProviderEvent, error)
}

var (
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrProviderRejected    = errors.New("provider_rejected")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidEvent        = errors.New("invalid_event")
)
