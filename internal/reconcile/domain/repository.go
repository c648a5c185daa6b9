package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *ProviderEventRecord) error
	FindByProviderEventID(ctx context.Context, db *gorm.DB, providerEventID string) (*ProviderEventRecord, error)
}
