package auction

import (
	"time"

	"github.com/greencycle/ewaste-auction/internal/types"
)

// resolution is the outcome of one resolver pass: the new displayed
// price and leader, plus whether a ledger entry is due. The result is a
// pure function of the live-ceiling set, so concurrent submissions
// serialize to the same terminal state regardless of commit order.
type resolution struct {
	price          float64
	leader         string
	appendEntry    bool
	proxyGenerated bool
}

// resolve recomputes the auction's displayed state after the submitting
// vendor's ceiling has been raised to maxCeiling. submittedAt is the
// creation time of the vendor's stored ceiling and breaks exact-tie
// contests in favour of the first vendor to commit that ceiling.
func resolve(auction *types.Auction, vendorID string, maxCeiling float64, submittedAt time.Time, others []types.ProxyBid) resolution {
	top, hasRival := highestCeiling(others)

	var price float64
	var leader string

	switch {
	case !hasRival:
		// Uncontested: the displayed price stays at the floor.
		price = auction.StartingPrice
		leader = vendorID

	case maxCeiling > top.MaxCeiling:
		// The submitter outbids every rival and pays one increment over
		// the runner-up, capped at their own ceiling.
		price = min(maxCeiling, top.MaxCeiling+auction.MinimumIncrement)
		leader = vendorID

	case maxCeiling == top.MaxCeiling:
		// Exact tie: the earlier commitment holds leadership at the
		// tied ceiling.
		price = maxCeiling
		if submittedAt.Before(top.CreatedAt) {
			leader = vendorID
		} else {
			leader = top.VendorID
		}

	default:
		// A rival's stored ceiling still wins; their displayed bid is
		// raised just past the submitter's ceiling.
		price = min(top.MaxCeiling, maxCeiling+auction.MinimumIncrement)
		leader = top.VendorID
	}

	if price < auction.StartingPrice {
		price = auction.StartingPrice
	}
	// Displayed price never moves backwards.
	if price < auction.CurrentPrice {
		price = auction.CurrentPrice
	}

	return resolution{
		price:       price,
		leader:      leader,
		appendEntry: price != auction.CurrentPrice || leader != auction.CurrentLeader,
		// Entries for a vendor other than the submitter are raises the
		// engine generated from that vendor's stored ceiling.
		proxyGenerated: leader != vendorID,
	}
}

// highestCeiling returns the strongest rival ceiling. Callers pass the
// slice ordered by created_at ascending, so on equal ceilings the
// earliest commitment is kept.
func highestCeiling(bids []types.ProxyBid) (types.ProxyBid, bool) {
	var top types.ProxyBid
	found := false
	for _, b := range bids {
		if !found || b.MaxCeiling > top.MaxCeiling {
			top = b
			found = true
		}
	}
	return top, found
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
