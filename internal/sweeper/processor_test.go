package sweeper

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/greencycle/ewaste-auction/internal/auction"
	"github.com/greencycle/ewaste-auction/internal/auth"
	"github.com/greencycle/ewaste-auction/internal/database"
	"github.com/greencycle/ewaste-auction/internal/notify"
	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "auctions.db"))
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	return db
}

// captureSink records delivered events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (s *captureSink) Deliver(event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) snapshot() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Event, len(s.events))
	copy(out, s.events)
	return out
}

func seedAuction(t *testing.T, db *gorm.DB, id, leader string, endsIn time.Duration) {
	t.Helper()
	dir := auction.NewDatabase(db)
	require.NoError(t, dir.CreateAuction(&types.Auction{
		AuctionID:        id,
		ItemRef:          "ITEM_" + id,
		Status:           types.AuctionStatusOpen,
		StartingPrice:    100,
		MinimumIncrement: 10,
		CurrentPrice:     100,
		CurrentLeader:    leader,
		StartTime:        time.Now().Add(-time.Hour),
		EndTime:          time.Now().Add(endsIn),
	}))
}

func TestProcessor_Sweep(t *testing.T) {
	db := setupTestDB(t)

	seedAuction(t, db, "sold", "vendorA", -time.Minute)
	seedAuction(t, db, "unsold", "", -time.Minute)
	seedAuction(t, db, "still_open", "vendorB", time.Hour)

	processor := NewProcessor(db, nil, time.Minute)
	result, err := processor.Sweep(time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 2, result.Scanned)
	require.Equal(t, 1, result.Closed)
	require.Equal(t, 1, result.ExpiredUnsold)
	require.Equal(t, 0, result.Contended)

	dir := auction.NewDatabase(db)

	sold, err := dir.GetAuction("sold")
	require.NoError(t, err)
	require.Equal(t, types.AuctionStatusClosed, sold.Status)
	require.Equal(t, "vendorA", sold.CurrentLeader)

	unsold, err := dir.GetAuction("unsold")
	require.NoError(t, err)
	require.Equal(t, types.AuctionStatusExpiredUnsold, unsold.Status)

	open, err := dir.GetAuction("still_open")
	require.NoError(t, err)
	require.Equal(t, types.AuctionStatusOpen, open.Status)
}

// A second pass over already-terminal auctions does nothing and emits
// no duplicate notifications.
func TestProcessor_Sweep_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	seedAuction(t, db, "sold", "vendorA", -time.Minute)
	seedAuction(t, db, "unsold", "", -time.Minute)

	sink := &captureSink{}
	dispatcher := notify.NewDispatcher(sink, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Start(ctx)

	processor := NewProcessor(db, dispatcher, time.Minute)

	result, err := processor.Sweep(time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 2, result.Scanned)

	result, err = processor.Sweep(time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 0, result.Scanned)
	require.Equal(t, 0, result.Closed)
	require.Equal(t, 0, result.ExpiredUnsold)

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Give the dispatcher a beat to surface any duplicates, then check
	// exactly one closure event per auction went out.
	time.Sleep(50 * time.Millisecond)
	events := sink.snapshot()
	require.Len(t, events, 2)
	seen := map[string]string{}
	for _, e := range events {
		require.Equal(t, notify.EventAuctionClosed, e.Kind)
		seen[e.Auction.AuctionID] = e.Auction.Status
	}
	require.Equal(t, types.AuctionStatusClosed, seen["sold"])
	require.Equal(t, types.AuctionStatusExpiredUnsold, seen["unsold"])
}

// A closed auction rejects late submissions even when the sweep and the
// bid race: whichever conditional write wins, the loser observes it.
func TestProcessor_Sweep_RejectsLateBids(t *testing.T) {
	db := setupTestDB(t)
	seedAuction(t, db, "ending", "vendorA", -time.Second)

	processor := NewProcessor(db, nil, time.Minute)
	_, err := processor.Sweep(time.Now().UTC())
	require.NoError(t, err)

	service := auction.NewService(db, nil)
	_, err = service.SubmitProxyBid(auction.Principal{VendorID: "vendorB", Role: auth.RoleVendor}, "ending", 500)
	require.ErrorIs(t, err, auction.ErrAuctionNotOpen)
}

// A stale in-memory auction row loses the conditional close.
func TestProcessor_CloseAuction_Contention(t *testing.T) {
	db := setupTestDB(t)
	seedAuction(t, db, "contended", "vendorA", -time.Minute)

	dir := auction.NewDatabase(db)
	stale, err := dir.GetAuction("contended")
	require.NoError(t, err)

	// Another writer bumps the version first
	fresh, err := dir.GetAuction("contended")
	require.NoError(t, err)
	require.NoError(t, dir.CloseAuction(fresh, types.AuctionStatusClosed))

	err = dir.CloseAuction(stale, types.AuctionStatusClosed)
	require.ErrorIs(t, err, auction.ErrContention)
}
