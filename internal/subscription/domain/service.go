package domain

import (
	"context"
	"errors"
	"time"
)

type CreateSubscriptionRequest struct {
	PlanID       string         `json:"plan_id"`
	BillingCycle BillingCycle   `json:"billing_cycle"`
	CustomerRef  string         `json:"customer_ref"`
	TrialDays    int            `json:"trial_days,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type UpdateSubscriptionRequest struct {
	SubscriptionID string       `json:"-"`
	PlanID         string       `json:"plan_id,omitempty"`
	BillingCycle   BillingCycle `json:"billing_cycle,omitempty"`
}

type CancelSubscriptionRequest struct {
	SubscriptionID string     `json:"-"`
	Mode           CancelMode `json:"mode"`
}

type ListSubscriptionRequest struct {
	Status string
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, req ListSubscriptionRequest) ([]Subscription, error)
	Update(ctx context.Context, req UpdateSubscriptionRequest) (*Subscription, error)
	Cancel(ctx context.Context, req CancelSubscriptionRequest) (*Subscription, error)

	// GetActive returns the organization's current non-terminal
	// subscription, used by the usage meter to resolve the plan.
	GetActive(ctx context.Context) (Subscription, error)

	// CurrentPeriod returns the containing billing period for t, falling
	// back to a calendar month when the org has no subscription.
	CurrentPeriod(ctx context.Context, t time.Time) (time.Time, time.Time, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidBillingCycle  = errors.New("invalid_billing_cycle")
	ErrInvalidCustomerRef   = errors.New("invalid_customer_ref")
	ErrInvalidCancelMode    = errors.New("invalid_cancel_mode")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionConflict = errors.New("subscription_conflict")
	ErrSubscriptionTerminal = errors.New("subscription_terminal")
)

// TransitionAllowed reports whether a status change is legal. Only the
// reconciliation path and explicit administrative overrides may move a
// subscription out of pending.
func TransitionAllowed(current, target SubscriptionStatus) bool {
	if current == target {
		return false
	}
	switch current {
	case SubscriptionStatusPending:
		return target == SubscriptionStatusActive ||
			target == SubscriptionStatusTrialing ||
			target == SubscriptionStatusCanceled
	case SubscriptionStatusTrialing:
		return target == SubscriptionStatusActive ||
			target == SubscriptionStatusPastDue ||
			target == SubscriptionStatusCanceled
	case SubscriptionStatusActive:
		return target == SubscriptionStatusPastDue ||
			target == SubscriptionStatusCanceled
	case SubscriptionStatusPastDue:
		return target == SubscriptionStatusActive ||
			target == SubscriptionStatusCanceled
	default:
		return false
	}
}
