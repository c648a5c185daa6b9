package migration

import (
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	reconciledomain "github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/domain"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"gorm.io/gorm"
)

// AutoMigrate creates the schema from the gorm models, for dialects the
// SQL migrations do not target. Postgres deployments get their schema
// from the versioned migrations instead.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&plandomain.Plan{},
		&plandomain.PlanLimit{},
		&subscriptiondomain.Subscription{},
		&usagedomain.UsageRecord{},
		&usagedomain.UsageSummary{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&reconciledomain.ProviderEventRecord{},
	); err != nil {
		return err
	}

	// gorm cannot express the partial unique index guarding one live
	// subscription per org. SQLite understands the same index the
	// versioned migrations give postgres; other dialects run without
	// the backstop.
	if conn.Dialector.Name() == "sqlite" {
		return conn.Exec(
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_org_live
			 ON subscriptions (org_id)
			 WHERE status IN ('pending', 'trialing', 'active', 'past_due')`,
		).Error
	}
	return nil
}
