package types

import "time"

// AuctionView is the public read model of an auction. It deliberately
// carries no proxy ceiling data; every public read path goes through it.
type AuctionView struct {
	AuctionID        string    `json:"auction_id"`
	ItemRef          string    `json:"item_ref"`
	Status           string    `json:"status"`
	StartingPrice    float64   `json:"starting_price"`
	MinimumIncrement float64   `json:"minimum_increment"`
	CurrentPrice     float64   `json:"current_price"`
	CurrentLeader    string    `json:"current_leader"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

// BidView is one public ledger entry: displayed amounts only.
type BidView struct {
	AuctionID        string    `json:"auction_id"`
	SequenceNumber   int64     `json:"sequence_number"`
	VendorID         string    `json:"vendor_id"`
	Amount           float64   `json:"amount"`
	IsProxyGenerated bool      `json:"is_proxy_generated"`
	Timestamp        time.Time `json:"timestamp"`
}

// BidReceipt is returned from a proxy-bid submission. Entry is nil when
// the submission only updated the stored ceiling without moving the
// displayed price.
type BidReceipt struct {
	Auction AuctionView `json:"auction"`
	Entry   *BidView    `json:"ledger_entry,omitempty"`
}

// PublicAuctionView converts an auction record to its public read model.
func PublicAuctionView(a *Auction) AuctionView {
	return AuctionView{
		AuctionID:        a.AuctionID,
		ItemRef:          a.ItemRef,
		Status:           a.Status,
		StartingPrice:    a.StartingPrice,
		MinimumIncrement: a.MinimumIncrement,
		CurrentPrice:     a.CurrentPrice,
		CurrentLeader:    a.CurrentLeader,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
	}
}

// PublicBidView converts a ledger entry to its public read model.
func PublicBidView(e *BidLedgerEntry) BidView {
	return BidView{
		AuctionID:        e.AuctionID,
		SequenceNumber:   e.SequenceNumber,
		VendorID:         e.VendorID,
		Amount:           e.Amount,
		IsProxyGenerated: e.IsProxyGenerated,
		Timestamp:        e.Timestamp,
	}
}
