package ledger

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/greencycle/ewaste-auction/pkg/response"
	"gorm.io/gorm"
)

var ErrAuctionNotFound = errors.New("auction not found")

// Service reads the append-only bid ledger. Writes happen only inside
// the resolver's transaction; this side serves audit and display reads,
// always through public views.
type Service struct {
	db *Database
}

// NewService creates a new ledger read service on the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// ListByAuction returns the full ordered bid history of an auction.
func (s *Service) ListByAuction(auctionID string) ([]types.BidView, error) {
	if err := s.db.auctionExists(auctionID); err != nil {
		return nil, err
	}

	entries, err := s.db.ListByAuction(auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for auction %s: %w", auctionID, err)
	}

	views := make([]types.BidView, 0, len(entries))
	for i := range entries {
		views = append(views, types.PublicBidView(&entries[i]))
	}
	return views, nil
}

// Latest returns the most recent ledger entry for an auction, or nil
// when no bid was ever placed.
func (s *Service) Latest(auctionID string) (*types.BidView, error) {
	if err := s.db.auctionExists(auctionID); err != nil {
		return nil, err
	}

	entry, err := s.db.Latest(auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest ledger entry for auction %s: %w", auctionID, err)
	}
	if entry == nil {
		return nil, nil
	}
	view := types.PublicBidView(entry)
	return &view, nil
}

// Database wraps ledger reads over the shared auction tables.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) ListByAuction(auctionID string) ([]types.BidLedgerEntry, error) {
	var entries []types.BidLedgerEntry
	if err := d.db.Where("auction_id = ?", auctionID).
		Order("sequence_number ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Database) Latest(auctionID string) (*types.BidLedgerEntry, error) {
	var entry types.BidLedgerEntry
	if err := d.db.Where("auction_id = ?", auctionID).
		Order("sequence_number DESC").
		First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (d *Database) auctionExists(auctionID string) error {
	var count int64
	if err := d.db.Model(&types.Auction{}).Where("auction_id = ?", auctionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	return nil
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListBidHistoryHandler handles GET requests for an auction's public
// bid history. Amounts only; ceilings are never read here.
func (h *GinHandlers) ListBidHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		views, err := h.service.ListByAuction(c.Param("auction_id"))
		if err != nil {
			if errors.Is(err, ErrAuctionNotFound) {
				response.NotFound(c, err.Error())
				return
			}
			response.InternalError(c, "An unexpected error occurred")
			return
		}
		response.Success(c, views)
	}
}
