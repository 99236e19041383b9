package migrations

import (
	"github.com/greencycle/ewaste-auction/internal/types"
	"gorm.io/gorm"
)

// AddBidLedger creates the append-only bid ledger table. Kept as an
// explicit migration so the composite (auction_id, sequence_number)
// index exists before any auction accepts bids.
func AddBidLedger(db *gorm.DB) error {
	return db.AutoMigrate(&types.BidLedgerEntry{})
}
