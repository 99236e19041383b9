package database

import (
	"fmt"

	"github.com/greencycle/ewaste-auction/internal/database/migrations"
	"github.com/greencycle/ewaste-auction/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the auction directory store at the given path and
// brings the schema up to date. Pass ":memory:" for an ephemeral store.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddBidLedger(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Auction{},
		&types.ProxyBid{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
