package database

import (
	"fmt"

	"evm-swap-bot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates the ledger tables if they do not exist yet. The tables
// are append-only trade history, so migration never drops anything.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.WhaleWallet{},
		&models.WhaleTrade{},
		&models.OwnTrade{},
		&models.MarketEvent{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
