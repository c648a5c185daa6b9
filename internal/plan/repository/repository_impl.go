package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/db/option"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (
			id, org_id, code, name, monthly_price_minor, yearly_price_minor,
			currency, is_public, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.OrgID,
		plan.Code,
		plan.Name,
		plan.MonthlyPriceMinor,
		plan.YearlyPriceMinor,
		plan.Currency,
		plan.IsPublic,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

func (r *repo) InsertLimits(ctx context.Context, db *gorm.DB, limits []plandomain.PlanLimit) error {
	if len(limits) == 0 {
		return nil
	}

	for _, limit := range limits {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO plan_limits (
				id, org_id, plan_id, resource_type, max_quantity,
				overage_unit_price_micros, position, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			limit.ID,
			limit.OrgID,
			limit.PlanID,
			limit.ResourceType,
			limit.MaxQuantity,
			limit.OverageUnitPriceMicros,
			limit.Position,
			limit.CreatedAt,
			limit.UpdatedAt,
		).Error; err != nil {
			return err
		}
	}

	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, code, name, monthly_price_minor, yearly_price_minor,
		 currency, is_public, created_at, updated_at
		 FROM plans WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, orgID snowflake.ID, code string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, code, name, monthly_price_minor, yearly_price_minor,
		 currency, is_public, created_at, updated_at
		 FROM plans WHERE org_id = ? AND code = ?
		 LIMIT 1`,
		orgID,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, includeArchived bool) ([]plandomain.Plan, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.WithQuerySortBy("created_at", "asc", nil)),
	}
	if !includeArchived {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "is_public",
			Operator: option.EQ,
			Value:    true,
		}))
	}

	rows, err := repository.ProvideStore[plandomain.Plan](db).
		Find(ctx, &plandomain.Plan{OrgID: orgID}, opts...)
	if err != nil {
		return nil, err
	}

	plans := make([]plandomain.Plan, 0, len(rows))
	for _, row := range rows {
		plans = append(plans, *row)
	}
	return plans, nil
}

func (r *repo) ListLimits(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) ([]plandomain.PlanLimit, error) {
	rows, err := repository.ProvideStore[plandomain.PlanLimit](db).
		Find(ctx, &plandomain.PlanLimit{OrgID: orgID, PlanID: planID},
			option.WithSortBy(option.WithQuerySortBy("position", "asc", nil)))
	if err != nil {
		return nil, err
	}

	limits := make([]plandomain.PlanLimit, 0, len(rows))
	for _, row := range rows {
		limits = append(limits, *row)
	}
	return limits, nil
}

func (r *repo) FindLimit(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID, resourceType string) (*plandomain.PlanLimit, error) {
	var limit plandomain.PlanLimit
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, plan_id, resource_type, max_quantity,
		 overage_unit_price_micros, position, created_at, updated_at
		 FROM plan_limits
		 WHERE org_id = ? AND plan_id = ? AND resource_type = ?
		 LIMIT 1`,
		orgID,
		planID,
		resourceType,
	).Scan(&limit).Error
	if err != nil {
		return nil, err
	}
	if limit.ID == 0 {
		return nil, nil
	}
	return &limit, nil
}

func (r *repo) Archive(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE plans SET is_public = FALSE, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Error
}
