package database

import (
	"fmt"

	"xp-tournaments/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.EngineCounter{},
		&models.Tournament{},
		&models.RosterSlot{},
		&models.OwnershipToken{},
		&models.OwnershipTransfer{},
		&models.TokenBalance{},
		&models.TokenAllowance{},
		&models.LedgerEntry{},
		&models.Settlement{},
		&models.Payout{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
