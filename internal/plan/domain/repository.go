package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	InsertLimits(ctx context.Context, db *gorm.DB, limits []PlanLimit) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, code string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, includeArchived bool) ([]Plan, error)
	ListLimits(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) ([]PlanLimit, error)
	FindLimit(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID, resourceType string) (*PlanLimit, error)
	Archive(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error
}
