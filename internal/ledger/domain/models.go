// Package domain defines the boundary with the external payment provider.
// The provider is the authority for money movement; everything here is a
// request to it or a notification from it.
package domain

import (
	"encoding/json"
	"time"
)

// Provider event types the reconciliation engine understands. Anything
// else is acknowledged and ignored.
const (
	EventSubscriptionCreated     = "subscription.created"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventTrialWillEnd            = "subscription.trial_will_end"
)

// ProviderEvent is one decoded webhook notification.
type ProviderEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// SubscriptionEventData is the payload carried by subscription.* events.
type SubscriptionEventData struct {
	ExternalRef        string     `json:"subscription_ref"`
	CustomerRef        string     `json:"customer_ref"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	TrialEndsAt        *time.Time `json:"trial_ends_at,omitempty"`
}

// InvoiceEventData is the payload carried by invoice.payment_* events.
type InvoiceEventData struct {
	ExternalRef     string `json:"subscription_ref"`
	CustomerRef     string `json:"customer_ref"`
	InvoiceRef      string `json:"invoice_ref"`
	AmountPaidMinor int64  `json:"amount_paid_minor"`
	Currency        string `json:"currency"`
}

// CreateSubscriptionRequest opens a subscription on the provider side.
// OperationID seeds the idempotency key, so retrying the same local
// operation cannot create a second provider subscription.
type CreateSubscriptionRequest struct {
	OperationID  string `json:"-"`
	CustomerRef  string `json:"customer_ref"`
	PlanCode     string `json:"plan_code"`
	BillingCycle string `json:"billing_cycle"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
	TrialDays    int    `json:"trial_days,omitempty"`
}

// UpdateSubscriptionRequest changes plan or cycle on an existing
// provider subscription.
type UpdateSubscriptionRequest struct {
	OperationID  string `json:"-"`
	ExternalRef  string `json:"-"`
	PlanCode     string `json:"plan_code"`
	BillingCycle string `json:"billing_cycle"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
}

// CancelSubscriptionRequest cancels a provider subscription, either
// immediately or at the current period boundary.
type CancelSubscriptionRequest struct {
	OperationID string `json:"-"`
	ExternalRef string `json:"-"`
	AtPeriodEnd bool   `json:"at_period_end"`
}

// CreateInvoiceRequest hands a closed-period invoice to the provider for
// collection.
type CreateInvoiceRequest struct {
	OperationID   string `json:"-"`
	ExternalRef   string `json:"subscription_ref"`
	InvoiceNumber string `json:"invoice_number"`
	SubtotalMinor int64  `json:"subtotal_minor"`
	TaxMinor      int64  `json:"tax_minor"`
	TotalMinor    int64  `json:"total_minor"`
	Currency      string `json:"currency"`
}

// PayInvoiceRequest triggers collection of a provider invoice.
type PayInvoiceRequest struct {
	OperationID string `json:"-"`
	InvoiceRef  string `json:"-"`
}

// RefundPaymentRequest refunds part or all of a collected payment.
type RefundPaymentRequest struct {
	OperationID string `json:"-"`
	PaymentRef  string `json:"-"`
	AmountMinor int64  `json:"amount_minor"`
	Reason      string `json:"reason,omitempty"`
}

// ProviderSubscription is the provider's view of a subscription, as
// returned by synchronous calls.
type ProviderSubscription struct {
	ExternalRef        string     `json:"subscription_ref"`
	CustomerRef        string     `json:"customer_ref"`
	Status             string     `json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
}

// ProviderInvoice is the provider's view of an invoice.
type ProviderInvoice struct {
	InvoiceRef string `json:"invoice_ref"`
	Status     string `json:"status"`
}

// ProviderRefund is the provider's view of a refund.
type ProviderRefund struct {
	RefundRef   string `json:"refund_ref"`
	AmountMinor int64  `json:"amount_minor"`
	Status      string `json:"status"`
}
