package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, org_id, plan_id, billing_cycle, status,
	 current_period_start, current_period_end, trial_ends_at,
	 cancel_at_period_end, canceled_at, external_ref, customer_ref,
	 metadata, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

// lockSuffix returns the row-lock clause where the dialect has one.
// SQLite serializes writers at the database level instead.
func lockSuffix(db *gorm.DB) string {
	if db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, org_id, plan_id, billing_cycle, status,
			current_period_start, current_period_end, trial_ends_at,
			cancel_at_period_end, canceled_at, external_ref, customer_ref,
			metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.OrgID,
		subscription.PlanID,
		subscription.BillingCycle,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEndsAt,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.ExternalRef,
		subscription.CustomerRef,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET
			plan_id = ?, billing_cycle = ?, status = ?,
			current_period_start = ?, current_period_end = ?, trial_ends_at = ?,
			cancel_at_period_end = ?, canceled_at = ?, external_ref = ?,
			customer_ref = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		subscription.PlanID,
		subscription.BillingCycle,
		subscription.Status,
		subscription.CurrentPeriodStart,
		subscription.CurrentPeriodEnd,
		subscription.TrialEndsAt,
		subscription.CancelAtPeriodEnd,
		subscription.CanceledAt,
		subscription.ExternalRef,
		subscription.CustomerRef,
		subscription.Metadata,
		subscription.UpdatedAt,
		subscription.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ? AND id = ?`,
		orgID, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE org_id = ? AND id = ?`+lockSuffix(db),
		orgID, id)
}

func (r *repo) FindNonTerminalByOrg(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE org_id = ? AND status IN ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		orgID, subscriptiondomain.NonTerminalStatuses)
}

func (r *repo) FindNonTerminalByOrgForUpdate(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE org_id = ? AND status IN ?
		 ORDER BY created_at DESC
		 LIMIT 1`+lockSuffix(db),
		orgID, subscriptiondomain.NonTerminalStatuses)
}

func (r *repo) FindByExternalRef(ctx context.Context, db *gorm.DB, externalRef string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_ref = ? LIMIT 1`,
		externalRef)
}

func (r *repo) FindByExternalRefForUpdate(ctx context.Context, db *gorm.DB, externalRef string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_ref = ? LIMIT 1`+lockSuffix(db),
		externalRef)
}

func (r *repo) FindPendingByCustomerRefForUpdate(ctx context.Context, db *gorm.DB, customerRef string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(ctx, db,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE customer_ref = ? AND status = ? AND external_ref IS NULL
		 ORDER BY created_at DESC
		 LIMIT 1`+lockSuffix(db),
		customerRef, subscriptiondomain.SubscriptionStatusPending)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status *subscriptiondomain.SubscriptionStatus) ([]subscriptiondomain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE org_id = ?`
	args := []any{orgID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at ASC`

	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, args...).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) ListPeriodEnded(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	var subscriptions []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status IN ? AND current_period_end <= ?
		 ORDER BY current_period_end ASC
		 LIMIT ?`,
		subscriptiondomain.NonTerminalStatuses,
		before,
		limit,
	).Scan(&subscriptions).Error
	if err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(query, args...).Scan(&subscription).Error
	if err != nil {
		return nil, err
	}
	if subscription.ID == 0 {
		return nil, nil
	}
	return &subscription, nil
}
