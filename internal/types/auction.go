package types

import (
	"time"

	"gorm.io/gorm"
)

// Auction statuses
const (
	AuctionStatusOpen          = "OPEN"
	AuctionStatusClosed        = "CLOSED"
	AuctionStatusExpiredUnsold = "EXPIRED_UNSOLD"
)

// Auction represents a disposal auction for a single e-waste item.
// CurrentPrice and CurrentLeader are written only through conditional
// updates keyed on Version; LastSequence is the per-auction ledger
// sequence counter and advances inside the same conditional write.
type Auction struct {
	gorm.Model       `json:"-"`
	AuctionID        string    `gorm:"uniqueIndex" json:"auction_id"`
	ItemRef          string    `json:"item_ref"`
	Status           string    `json:"status"` // OPEN, CLOSED, EXPIRED_UNSOLD
	StartingPrice    float64   `json:"starting_price"`
	MinimumIncrement float64   `json:"minimum_increment"`
	CurrentPrice     float64   `json:"current_price"`
	CurrentLeader    string    `json:"current_leader"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	Version          int64     `json:"-"`
	LastSequence     int64     `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// IsOpen reports whether the auction accepts bids at the given instant.
func (a *Auction) IsOpen(now time.Time) bool {
	return a.Status == AuctionStatusOpen && now.Before(a.EndTime)
}

// ProxyBid is a vendor's private maximum willing bid for one auction.
// At most one live ceiling exists per (auction, vendor); resubmission
// replaces it. MaxCeiling must never reach a serialized response.
type ProxyBid struct {
	gorm.Model `json:"-"`
	AuctionID  string    `gorm:"uniqueIndex:idx_proxy_auction_vendor" json:"auction_id"`
	VendorID   string    `gorm:"uniqueIndex:idx_proxy_auction_vendor" json:"vendor_id"`
	MaxCeiling float64   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BidLedgerEntry is one append-only record of a displayed bid. Entries
// are never mutated or deleted; SequenceNumber is strictly increasing
// per auction and breaks timestamp ties.
type BidLedgerEntry struct {
	gorm.Model       `json:"-"`
	EntryID          string    `gorm:"uniqueIndex" json:"entry_id"`
	AuctionID        string    `gorm:"uniqueIndex:idx_ledger_auction_seq" json:"auction_id"`
	SequenceNumber   int64     `gorm:"uniqueIndex:idx_ledger_auction_seq" json:"sequence_number"`
	VendorID         string    `json:"vendor_id"`
	Amount           float64   `json:"amount"`
	IsProxyGenerated bool      `json:"is_proxy_generated"`
	Timestamp        time.Time `json:"timestamp"`
}
