package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/greencycle/ewaste-auction/internal/types"
	"gorm.io/gorm"
)

// Directory is the persistence boundary for auctions, ceilings and the
// bid ledger. Every mutation of an auction is a conditional write keyed
// on the record's version token.
type Directory interface {
	CreateAuction(auction *types.Auction) error
	GetAuction(auctionID string) (*types.Auction, error)
	GetProxyBid(auctionID, vendorID string) (*types.ProxyBid, error)
	ListOtherCeilings(auctionID, excludeVendorID string) ([]types.ProxyBid, error)
	ApplyResolution(plan *ResolutionPlan) error
	CloseAuction(auction *types.Auction, newStatus string) error
	ListOpenAuctionsEndingBefore(cutoff time.Time) ([]types.Auction, error)
}

// ResolutionPlan is the complete write set produced by one resolver
// pass: the ceiling upsert, the conditional auction update and the
// optional ledger append. It persists atomically or not at all.
type ResolutionPlan struct {
	AuctionID       string
	ExpectedVersion int64
	VendorID        string
	MaxCeiling      float64
	NewPrice        float64
	NewLeader       string
	NewSequence     int64                 // last_sequence + 1, meaningful only with Entry
	Entry           *types.BidLedgerEntry // nil for ceiling-only updates
}

// Database is the GORM-backed Directory implementation.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateAuction(auction *types.Auction) error {
	return d.db.Create(auction).Error
}

func (d *Database) GetAuction(auctionID string) (*types.Auction, error) {
	var auction types.Auction
	if err := d.db.Where("auction_id = ?", auctionID).First(&auction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auction, nil
}

func (d *Database) GetProxyBid(auctionID, vendorID string) (*types.ProxyBid, error) {
	var bid types.ProxyBid
	if err := d.db.Where("auction_id = ? AND vendor_id = ?", auctionID, vendorID).First(&bid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &bid, nil
}

func (d *Database) ListOtherCeilings(auctionID, excludeVendorID string) ([]types.ProxyBid, error) {
	var bids []types.ProxyBid
	if err := d.db.Where("auction_id = ? AND vendor_id <> ?", auctionID, excludeVendorID).
		Order("created_at ASC").
		Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}

// ApplyResolution persists one resolver pass in a single transaction.
// The auction update is conditional on the version read at the start of
// the pass; a lost race surfaces as errVersionMismatch so the caller
// re-reads and recomputes. The version advances on every commit, also
// for ceiling-only updates, so concurrent resolvers always observe the
// full live-ceiling set.
func (d *Database) ApplyResolution(plan *ResolutionPlan) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	// Upsert the submitting vendor's ceiling. A concurrent first
	// submission by the same vendor trips the unique index; treat it as
	// a lost race so the retry takes the update path.
	res := tx.Model(&types.ProxyBid{}).
		Where("auction_id = ? AND vendor_id = ?", plan.AuctionID, plan.VendorID).
		Updates(map[string]interface{}{
			"max_ceiling": plan.MaxCeiling,
			"updated_at":  now,
		})
	if res.Error != nil {
		tx.Rollback()
		return res.Error
	}
	if res.RowsAffected == 0 {
		ceiling := types.ProxyBid{
			AuctionID:  plan.AuctionID,
			VendorID:   plan.VendorID,
			MaxCeiling: plan.MaxCeiling,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&ceiling).Error; err != nil {
			tx.Rollback()
			return errVersionMismatch
		}
	}

	updates := map[string]interface{}{
		"current_price":  plan.NewPrice,
		"current_leader": plan.NewLeader,
		"version":        plan.ExpectedVersion + 1,
		"updated_at":     now,
	}
	if plan.Entry != nil {
		updates["last_sequence"] = plan.NewSequence
	}

	res = tx.Model(&types.Auction{}).
		Where("auction_id = ? AND version = ? AND status = ?",
			plan.AuctionID, plan.ExpectedVersion, types.AuctionStatusOpen).
		Updates(updates)
	if res.Error != nil {
		tx.Rollback()
		return res.Error
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return errVersionMismatch
	}

	if plan.Entry != nil {
		if err := tx.Create(plan.Entry).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to append ledger entry: %w", err)
		}
	}

	return tx.Commit().Error
}

// CloseAuction transitions an open auction to a terminal status using
// the same conditional-write discipline as the resolver. A lost race
// (last-second bid or a concurrent sweep) returns ErrContention; the
// caller skips the auction and the next sweep pass settles it.
func (d *Database) CloseAuction(auction *types.Auction, newStatus string) error {
	res := d.db.Model(&types.Auction{}).
		Where("auction_id = ? AND version = ? AND status = ?",
			auction.AuctionID, auction.Version, types.AuctionStatusOpen).
		Updates(map[string]interface{}{
			"status":     newStatus,
			"version":    auction.Version + 1,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrContention
	}
	return nil
}

func (d *Database) ListOpenAuctionsEndingBefore(cutoff time.Time) ([]types.Auction, error) {
	var auctions []types.Auction
	if err := d.db.Where("status = ? AND end_time <= ?", types.AuctionStatusOpen, cutoff).
		Order("end_time ASC").
		Find(&auctions).Error; err != nil {
		return nil, err
	}
	return auctions, nil
}
