package repository

import (
	"context"

	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	"gorm.io/gorm"
)

const eventColumns = `id, provider_event_id, event_type, outcome,
	 subscription_id, processed_at, created_at`

type repo struct{}

func Provide() reconciledomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *reconciledomain.ProviderEventRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_events (
			id, provider_event_id, event_type, outcome,
			subscription_id, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ProviderEventID,
		record.EventType,
		record.Outcome,
		record.SubscriptionID,
		record.ProcessedAt,
		record.CreatedAt,
	).Error
}

func (r *repo) FindByProviderEventID(ctx context.Context, db *gorm.DB, providerEventID string) (*reconciledomain.ProviderEventRecord, error) {
	var record reconciledomain.ProviderEventRecord
	err := db.WithContext(ctx).
		Raw(`SELECT `+eventColumns+` FROM provider_events WHERE provider_event_id = ?`, providerEventID).
		Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
