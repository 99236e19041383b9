package auction

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/greencycle/ewaste-auction/internal/auth"
	"github.com/greencycle/ewaste-auction/internal/database"
	"github.com/greencycle/ewaste-auction/internal/ledger"
	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// _txlock=immediate makes concurrent write transactions queue on the
	// busy timeout instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", filepath.Join(t.TempDir(), "auctions.db"))
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

func vendor(id string) Principal {
	return Principal{VendorID: id, Role: auth.RoleVendor}
}

func createOpenAuction(t *testing.T, service *Service, id string, startingPrice, increment float64) {
	t.Helper()
	_, err := service.CreateAuction(CreateAuctionParams{
		AuctionID:        id,
		ItemRef:          "ITEM_" + id,
		StartingPrice:    startingPrice,
		MinimumIncrement: increment,
		EndTime:          time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
}

// Tests the full proxy-bidding progression: first bid floors at the
// starting price, a losing ceiling raises the leader's displayed bid,
// and a winning ceiling takes leadership at one increment over the
// runner-up.
func TestService_SubmitProxyBid_Progression(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)
	createOpenAuction(t, service, "auction1", 100, 10)

	// Vendor A opens with ceiling 150
	receipt, err := service.SubmitProxyBid(vendor("vendorA"), "auction1", 150)
	require.NoError(t, err)
	require.Equal(t, 100.0, receipt.Auction.CurrentPrice)
	require.Equal(t, "vendorA", receipt.Auction.CurrentLeader)
	require.NotNil(t, receipt.Entry)
	require.Equal(t, int64(1), receipt.Entry.SequenceNumber)

	// Vendor B's lower ceiling pushes A's displayed bid up
	receipt, err = service.SubmitProxyBid(vendor("vendorB"), "auction1", 130)
	require.NoError(t, err)
	require.Equal(t, 140.0, receipt.Auction.CurrentPrice)
	require.Equal(t, "vendorA", receipt.Auction.CurrentLeader)
	require.NotNil(t, receipt.Entry)
	require.True(t, receipt.Entry.IsProxyGenerated)
	require.Equal(t, "vendorA", receipt.Entry.VendorID)

	// Vendor B re-raises above A's ceiling and takes the lead
	receipt, err = service.SubmitProxyBid(vendor("vendorB"), "auction1", 200)
	require.NoError(t, err)
	require.Equal(t, 160.0, receipt.Auction.CurrentPrice)
	require.Equal(t, "vendorB", receipt.Auction.CurrentLeader)

	// Ledger history is strictly sequenced with non-decreasing amounts
	ledgerService := ledger.NewService(db)
	history, err := ledgerService.ListByAuction("auction1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, entry := range history {
		require.Equal(t, int64(i+1), entry.SequenceNumber)
		if i > 0 {
			require.GreaterOrEqual(t, entry.Amount, history[i-1].Amount)
		}
	}
	require.Equal(t, 160.0, history[2].Amount)
}

func TestService_SubmitProxyBid_Validation(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)
	createOpenAuction(t, service, "auction1", 100, 10)

	_, err := service.SubmitProxyBid(vendor("vendorA"), "auction1", 150)
	require.NoError(t, err)

	tests := []struct {
		name          string
		principal     Principal
		auctionID     string
		ceiling       float64
		expectedError error
	}{
		{
			name:          "unknown_auction",
			principal:     vendor("vendorA"),
			auctionID:     "missing",
			ceiling:       150,
			expectedError: ErrAuctionNotFound,
		},
		{
			name:          "non_vendor_principal",
			principal:     Principal{VendorID: "operator1", Role: auth.RoleOperator},
			auctionID:     "auction1",
			ceiling:       150,
			expectedError: ErrUnauthorized,
		},
		{
			name:          "zero_ceiling",
			principal:     vendor("vendorB"),
			auctionID:     "auction1",
			ceiling:       0,
			expectedError: ErrInvalidBid,
		},
		{
			name:          "negative_ceiling",
			principal:     vendor("vendorB"),
			auctionID:     "auction1",
			ceiling:       -50,
			expectedError: ErrInvalidBid,
		},
		{
			name:          "ceiling_at_current_price",
			principal:     vendor("vendorB"),
			auctionID:     "auction1",
			ceiling:       100,
			expectedError: ErrInvalidBid,
		},
		{
			name:          "leader_self_raise_below_own_ceiling",
			principal:     vendor("vendorA"),
			auctionID:     "auction1",
			ceiling:       140,
			expectedError: ErrInvalidBid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.SubmitProxyBid(tt.principal, tt.auctionID, tt.ceiling)
			require.ErrorIs(t, err, tt.expectedError)
		})
	}

	// Rejected submissions leave no ledger entries behind
	ledgerService := ledger.NewService(db)
	history, err := ledgerService.ListByAuction("auction1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestService_SubmitProxyBid_SelfRaise(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)
	createOpenAuction(t, service, "auction1", 100, 10)

	_, err := service.SubmitProxyBid(vendor("vendorA"), "auction1", 150)
	require.NoError(t, err)

	// A raise by the leader stores the new ceiling without touching the
	// displayed price or appending a ledger entry.
	receipt, err := service.SubmitProxyBid(vendor("vendorA"), "auction1", 300)
	require.NoError(t, err)
	require.Nil(t, receipt.Entry)
	require.Equal(t, 100.0, receipt.Auction.CurrentPrice)
	require.Equal(t, "vendorA", receipt.Auction.CurrentLeader)

	// The raised ceiling is live: a rival bidding between the old and
	// new ceiling still loses.
	receipt, err = service.SubmitProxyBid(vendor("vendorB"), "auction1", 200)
	require.NoError(t, err)
	require.Equal(t, "vendorA", receipt.Auction.CurrentLeader)
	require.Equal(t, 210.0, receipt.Auction.CurrentPrice) // min(300, 200+10)
}

func TestService_SubmitProxyBid_ClosedOrExpired(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)
	dir := NewDatabase(db)

	// Auction already past its end time but not yet swept
	require.NoError(t, dir.CreateAuction(&types.Auction{
		AuctionID:        "expired",
		ItemRef:          "ITEM_expired",
		Status:           types.AuctionStatusOpen,
		StartingPrice:    100,
		MinimumIncrement: 10,
		CurrentPrice:     100,
		StartTime:        time.Now().Add(-2 * time.Hour),
		EndTime:          time.Now().Add(-time.Hour),
	}))

	_, err := service.SubmitProxyBid(vendor("vendorA"), "expired", 150)
	require.ErrorIs(t, err, ErrAuctionNotOpen)

	// Terminal status rejects bids regardless of end time
	require.NoError(t, dir.CreateAuction(&types.Auction{
		AuctionID:        "closed",
		ItemRef:          "ITEM_closed",
		Status:           types.AuctionStatusClosed,
		StartingPrice:    100,
		MinimumIncrement: 10,
		CurrentPrice:     160,
		CurrentLeader:    "vendorB",
		StartTime:        time.Now().Add(-2 * time.Hour),
		EndTime:          time.Now().Add(time.Hour),
	}))

	_, err = service.SubmitProxyBid(vendor("vendorA"), "closed", 500)
	require.ErrorIs(t, err, ErrAuctionNotOpen)
}

// No vendor's ceiling may appear in any serialized response.
func TestService_CeilingNeverSerialized(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)
	createOpenAuction(t, service, "auction1", 100, 10)

	receipt, err := service.SubmitProxyBid(vendor("vendorA"), "auction1", 777.77)
	require.NoError(t, err)

	receiptJSON, err := json.Marshal(receipt)
	require.NoError(t, err)
	require.NotContains(t, string(receiptJSON), "777.77")
	require.NotContains(t, string(receiptJSON), "max_ceiling")

	view, err := service.GetPublicAuctionView("auction1")
	require.NoError(t, err)
	viewJSON, err := json.Marshal(view)
	require.NoError(t, err)
	require.NotContains(t, string(viewJSON), "777.77")

	// The stored record itself hides the ceiling from serialization
	dir := NewDatabase(db)
	stored, err := dir.GetProxyBid("auction1", "vendorA")
	require.NoError(t, err)
	require.Equal(t, 777.77, stored.MaxCeiling)
	storedJSON, err := json.Marshal(stored)
	require.NoError(t, err)
	require.NotContains(t, string(storedJSON), "777.77")
}

func TestService_CreateAuction_Validation(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)

	tests := []struct {
		name   string
		params CreateAuctionParams
	}{
		{
			name: "zero_starting_price",
			params: CreateAuctionParams{
				ItemRef: "ITEM_x", MinimumIncrement: 10,
				EndTime: time.Now().Add(time.Hour),
			},
		},
		{
			name: "zero_increment",
			params: CreateAuctionParams{
				ItemRef: "ITEM_x", StartingPrice: 100,
				EndTime: time.Now().Add(time.Hour),
			},
		},
		{
			name: "end_before_start",
			params: CreateAuctionParams{
				ItemRef: "ITEM_x", StartingPrice: 100, MinimumIncrement: 10,
				StartTime: time.Now(), EndTime: time.Now().Add(-time.Hour),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateAuction(tt.params)
			require.ErrorIs(t, err, ErrInvalidAuction)
		})
	}

	view, err := service.CreateAuction(CreateAuctionParams{
		ItemRef:          "ITEM_ok",
		StartingPrice:    100,
		MinimumIncrement: 10,
		EndTime:          time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, view.AuctionID)
	require.Equal(t, types.AuctionStatusOpen, view.Status)
	require.Equal(t, 100.0, view.CurrentPrice)
	require.Empty(t, view.CurrentLeader)
}

// Concurrent submissions must serialize cleanly: whatever interleaving
// the retry loop resolves, the ledger stays monotonic, exactly one
// vendor leads, and the displayed price never exceeds the leader's
// stored ceiling.
func TestService_SubmitProxyBid_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	service := NewService(db, nil)
	createOpenAuction(t, service, "auction1", 100, 10)

	ceilings := map[string]float64{
		"vendorA": 150,
		"vendorB": 200,
		"vendorC": 175,
		"vendorD": 320,
	}

	var wg sync.WaitGroup
	for vendorID, ceiling := range ceilings {
		wg.Add(1)
		go func(vendorID string, ceiling float64) {
			defer wg.Done()
			// Rejections and exhausted retries are acceptable outcomes
			// of the race; corrupted state is not.
			_, _ = service.SubmitProxyBid(vendor(vendorID), "auction1", ceiling)
		}(vendorID, ceiling)
	}
	wg.Wait()

	dir := NewDatabase(db)
	auction, err := dir.GetAuction("auction1")
	require.NoError(t, err)
	require.NotEmpty(t, auction.CurrentLeader)

	leaderCeiling, err := dir.GetProxyBid("auction1", auction.CurrentLeader)
	require.NoError(t, err)
	require.NotNil(t, leaderCeiling)
	require.LessOrEqual(t, auction.CurrentPrice, leaderCeiling.MaxCeiling)
	require.GreaterOrEqual(t, auction.CurrentPrice, auction.StartingPrice)

	// Every rival ceiling that committed is at or below the leader's
	others, err := dir.ListOtherCeilings("auction1", auction.CurrentLeader)
	require.NoError(t, err)
	for _, o := range others {
		require.LessOrEqual(t, o.MaxCeiling, leaderCeiling.MaxCeiling)
	}

	// Ledger amounts are non-decreasing with strictly increasing
	// sequence numbers, and the last entry matches the auction.
	ledgerService := ledger.NewService(db)
	history, err := ledgerService.ListByAuction("auction1")
	require.NoError(t, err)
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		require.Equal(t, history[i-1].SequenceNumber+1, history[i].SequenceNumber)
		require.GreaterOrEqual(t, history[i].Amount, history[i-1].Amount)
	}
	require.Equal(t, auction.CurrentPrice, history[len(history)-1].Amount)
	require.Equal(t, auction.CurrentLeader, history[len(history)-1].VendorID)
}
