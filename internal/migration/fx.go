package migration

import (
	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned migrator targets postgres. Other dialects are for
		// local development and tests, which migrate through gorm instead.
		if cfg.DBType != "postgres" {
			return AutoMigrate(conn)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
