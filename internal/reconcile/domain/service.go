package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/mihaildragos/social-proof-app-sub000/internal/ledger/domain"
)

// HandleResult describes what processing one provider event did.
type HandleResult struct {
	Outcome        EventOutcome  `json:"outcome"`
	SubscriptionID *snowflake.ID `json:"subscription_id,omitempty"`
	// Replayed is true when the event had already been processed and
	// this delivery was absorbed by the idempotency marker.
	Replayed bool `json:"replayed"`
}

type Service interface {
	// HandleProviderEvent applies one verified, decoded provider event.
	// The caller is responsible for signature verification. Unmatched
	// events return ErrEventUnmatched so the transport can answer with a
	// retryable status.
	HandleProviderEvent(ctx context.Context, event *ledgerdomain.ProviderEvent) (*HandleResult, error)
	// RolloverDuePeriods sweeps subscriptions whose billing period has
	// ended: it applies deferred cancellations, promotes expired trials
	// and advances period windows. Returns how many rows it touched.
	RolloverDuePeriods(ctx context.Context, batchSize int) (int, error)
}

var (
	ErrInvalidEvent   = errors.New("invalid_event")
	ErrEventUnmatched = errors.New("event_unmatched")
)
