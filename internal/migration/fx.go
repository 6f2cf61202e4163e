package migration

import (
	"strings"

	balancedomain "github.com/smallcanvas/inkwell/internal/balance/domain"
	"github.com/smallcanvas/inkwell/internal/config"
	ledgerdomain "github.com/smallcanvas/inkwell/internal/ledger/domain"
	usagedomain "github.com/smallcanvas/inkwell/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned migrations target postgres. Other dialects
		// (sqlite for local runs) fall back to the model schema.
		if !strings.EqualFold(cfg.DBType, "postgres") {
			return conn.AutoMigrate(
				&balancedomain.CreditBalance{},
				&ledgerdomain.LedgerEntry{},
				&usagedomain.UsageCounter{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
