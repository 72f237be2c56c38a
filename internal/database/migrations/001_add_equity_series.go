package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/folio-api/internal/equity"
)

func AddEquitySeries(db *gorm.DB) error {
	// Create the per-account and combined series tables
	if err := db.AutoMigrate(&equity.EquityPoint{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&equity.CombinedSnapshot{}); err != nil {
		return err
	}

	return nil
}
