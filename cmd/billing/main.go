package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	"github.com/mihaildragos/social-proof-app-sub000/internal/invoice"
	"github.com/mihaildragos/social-proof-app-sub000/internal/ledger"
	"github.com/mihaildragos/social-proof-app-sub000/internal/logger"
	"github.com/mihaildragos/social-proof-app-sub000/internal/migration"
	"github.com/mihaildragos/social-proof-app-sub000/internal/observability"
	"github.com/mihaildragos/social-proof-app-sub000/internal/plan"
	"github.com/mihaildragos/social-proof-app-sub000/internal/providers/pdf"
	"github.com/mihaildragos/social-proof-app-sub000/internal/ratelimit"
	"github.com/mihaildragos/social-proof-app-sub000/internal/reconcile"
	"github.com/mihaildragos/social-proof-app-sub000/internal/server"
	"github.com/mihaildragos/social-proof-app-sub000/internal/subscription"
	"github.com/mihaildragos/social-proof-app-sub000/internal/usage"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		ledger.Module,
		pdf.Module,
		plan.Module,
		subscription.Module,
		usage.Module,
		invoice.Module,
		reconcile.Module,
		ratelimit.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
