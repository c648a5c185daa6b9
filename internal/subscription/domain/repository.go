package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is shared between the subscription service and the
// reconciliation engine; the engine is the only other writer.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Subscription, error)
	FindNonTerminalByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)
	FindNonTerminalByOrgForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*Subscription, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*Subscription, error)
	FindByExternalRefForUpdate(ctx context.Context, db *gorm.DB, externalRef string) (*Subscription, error)
	FindPendingByCustomerRefForUpdate(ctx context.Context, db *gorm.DB, customerRef string) (*Subscription, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status *SubscriptionStatus) ([]Subscription, error)
	ListPeriodEnded(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Subscription, error)
}
