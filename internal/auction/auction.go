package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/greencycle/ewaste-auction/internal/auth"
	"github.com/greencycle/ewaste-auction/internal/notify"
	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/greencycle/ewaste-auction/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// maxSubmitAttempts bounds the re-read/recompute/conditional-write loop
// before a submission surfaces ErrContention to the caller.
const maxSubmitAttempts = 3

// Principal is the authenticated caller, supplied by the identity
// provider. The engine trusts it as authoritative.
type Principal struct {
	VendorID string
	Role     string
}

// Service owns the auction lifecycle: it validates submissions against
// the current state, runs the proxy-bid resolver and commits the result
// through the directory's conditional writes.
type Service struct {
	dir        Directory
	dispatcher *notify.Dispatcher
}

// NewService creates a new auction service on the given database
// connection. dispatcher may be nil when no notification sink is wired.
func NewService(gormDB *gorm.DB, dispatcher *notify.Dispatcher) *Service {
	return &Service{
		dir:        NewDatabase(gormDB),
		dispatcher: dispatcher,
	}
}

// CreateAuctionParams carries the fixed attributes of a new auction.
type CreateAuctionParams struct {
	AuctionID        string    `json:"auction_id"`
	ItemRef          string    `json:"item_ref" binding:"required"`
	StartingPrice    float64   `json:"starting_price"`
	MinimumIncrement float64   `json:"minimum_increment"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time" binding:"required"`
}

// CreateAuction registers an open auction for an item owned elsewhere.
// Prices, increment and the bidding window are fixed at creation.
func (s *Service) CreateAuction(params CreateAuctionParams) (*types.AuctionView, error) {
	if params.StartingPrice <= 0 {
		return nil, fmt.Errorf("%w: starting price must be positive", ErrInvalidAuction)
	}
	if params.MinimumIncrement <= 0 {
		return nil, fmt.Errorf("%w: minimum increment must be positive", ErrInvalidAuction)
	}
	if params.StartTime.IsZero() {
		params.StartTime = time.Now().UTC()
	}
	if !params.EndTime.After(params.StartTime) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidAuction)
	}
	if params.AuctionID == "" {
		params.AuctionID = "AUC_" + uuid.New().String()
	}

	auction := &types.Auction{
		AuctionID:        params.AuctionID,
		ItemRef:          params.ItemRef,
		Status:           types.AuctionStatusOpen,
		StartingPrice:    params.StartingPrice,
		MinimumIncrement: params.MinimumIncrement,
		CurrentPrice:     params.StartingPrice,
		StartTime:        params.StartTime,
		EndTime:          params.EndTime,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}

	if err := s.dir.CreateAuction(auction); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	log.Info().
		Str("service", "auction").
		Str("auction_id", auction.AuctionID).
		Str("item_ref", auction.ItemRef).
		Float64("starting_price", auction.StartingPrice).
		Time("end_time", auction.EndTime).
		Msg("auction created")

	view := types.PublicAuctionView(auction)
	return &view, nil
}

// SubmitProxyBid registers or raises the vendor's private ceiling and
// recomputes the displayed price and leader against all rival ceilings.
// The returned receipt never exposes any vendor's ceiling.
func (s *Service) SubmitProxyBid(principal Principal, auctionID string, maxCeiling float64) (*types.BidReceipt, error) {
	logger := log.With().
		Str("service", "auction").
		Str("auction_id", auctionID).
		Str("vendor_id", principal.VendorID).
		Logger()

	if principal.Role != auth.RoleVendor {
		return nil, fmt.Errorf("%w: role %q", ErrUnauthorized, principal.Role)
	}
	if maxCeiling <= 0 {
		return nil, fmt.Errorf("%w: ceiling must be positive", ErrInvalidBid)
	}

	for attempt := 0; attempt < maxSubmitAttempts; attempt++ {
		receipt, err := s.trySubmit(principal.VendorID, auctionID, maxCeiling)
		if err == nil {
			return receipt, nil
		}
		if errors.Is(err, errVersionMismatch) {
			logger.Debug().Int("attempt", attempt+1).Msg("conditional write lost race, recomputing")
			continue
		}
		return nil, err
	}

	logger.Warn().Int("attempts", maxSubmitAttempts).Msg("bid submission retry budget exhausted")
	return nil, fmt.Errorf("%w: auction %s", ErrContention, auctionID)
}

// trySubmit performs one read-compute-commit pass. A version mismatch
// from the directory means another submission or a sweep committed
// first; the caller restarts from a fresh read.
func (s *Service) trySubmit(vendorID, auctionID string, maxCeiling float64) (*types.BidReceipt, error) {
	auction, err := s.dir.GetAuction(auctionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if auction == nil {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}

	now := time.Now().UTC()
	if !auction.IsOpen(now) {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotOpen, auctionID)
	}

	existing, err := s.dir.GetProxyBid(auctionID, vendorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	if auction.CurrentLeader == vendorID {
		// A self-raise must exceed the stored ceiling; it never moves
		// the displayed price.
		if existing != nil && maxCeiling <= existing.MaxCeiling {
			return nil, fmt.Errorf("%w: ceiling does not exceed existing ceiling %.2f", ErrInvalidBid, existing.MaxCeiling)
		}
	} else if maxCeiling <= auction.CurrentPrice {
		return nil, fmt.Errorf("%w: ceiling does not exceed current price %.2f", ErrInvalidBid, auction.CurrentPrice)
	}

	others, err := s.dir.ListOtherCeilings(auctionID, vendorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	submittedAt := now
	if existing != nil {
		submittedAt = existing.CreatedAt
	}

	res := resolve(auction, vendorID, maxCeiling, submittedAt, others)

	plan := &ResolutionPlan{
		AuctionID:       auctionID,
		ExpectedVersion: auction.Version,
		VendorID:        vendorID,
		MaxCeiling:      maxCeiling,
		NewPrice:        res.price,
		NewLeader:       res.leader,
	}
	if res.appendEntry {
		plan.NewSequence = auction.LastSequence + 1
		plan.Entry = &types.BidLedgerEntry{
			EntryID:          "BID_" + uuid.New().String(),
			AuctionID:        auctionID,
			SequenceNumber:   plan.NewSequence,
			VendorID:         res.leader,
			Amount:           res.price,
			IsProxyGenerated: res.proxyGenerated,
			Timestamp:        now,
		}
	}

	if err := s.dir.ApplyResolution(plan); err != nil {
		if errors.Is(err, errVersionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	auction.CurrentPrice = res.price
	auction.CurrentLeader = res.leader
	if plan.Entry != nil {
		auction.LastSequence = plan.NewSequence
	}

	receipt := &types.BidReceipt{Auction: types.PublicAuctionView(auction)}
	if plan.Entry != nil {
		entryView := types.PublicBidView(plan.Entry)
		receipt.Entry = &entryView

		log.Info().
			Str("service", "auction").
			Str("auction_id", auctionID).
			Str("leader", res.leader).
			Float64("current_price", res.price).
			Int64("sequence_number", plan.NewSequence).
			Msg("bid ledger advanced")

		if s.dispatcher != nil {
			s.dispatcher.Publish(notify.Event{
				Kind:    notify.EventLedgerAppended,
				Auction: receipt.Auction,
				Entry:   receipt.Entry,
			})
		}
	}

	return receipt, nil
}

// GetPublicAuctionView returns the public read model of an auction.
func (s *Service) GetPublicAuctionView(auctionID string) (*types.AuctionView, error) {
	auction, err := s.dir.GetAuction(auctionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if auction == nil {
		return nil, fmt.Errorf("%w: %s", ErrAuctionNotFound, auctionID)
	}
	view := types.PublicAuctionView(auction)
	return &view, nil
}

// GinHandlers contains HTTP handlers for auction endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for auction endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitBidHandler handles POST requests to submit a proxy ceiling.
// The vendor identity comes from the validated token, never the body.
func (h *GinHandlers) SubmitBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := Principal{
			VendorID: c.GetString("vendorID"),
			Role:     c.GetString("role"),
		}
		if principal.VendorID == "" {
			response.Unauthorized(c, "Missing vendor identity")
			return
		}

		var req struct {
			MaxCeiling float64 `json:"max_ceiling" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		receipt, err := h.service.SubmitProxyBid(principal, c.Param("auction_id"), req.MaxCeiling)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		response.Success(c, receipt)
	}
}

// GetAuctionHandler handles GET requests for the public auction view
func (h *GinHandlers) GetAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := h.service.GetPublicAuctionView(c.Param("auction_id"))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, view)
	}
}

// CreateAuctionHandler handles POST requests to seed a new auction.
// Exposed on the internal surface; the item CRUD lives elsewhere.
func (h *GinHandlers) CreateAuctionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var params CreateAuctionParams
		if err := c.ShouldBindJSON(&params); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		view, err := h.service.CreateAuction(params)
		if err != nil {
			respondServiceError(c, err)
			return
		}
		response.Success(c, view)
	}
}

// respondServiceError maps the auction error taxonomy onto HTTP codes.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAuctionNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrAuctionNotOpen):
		response.Conflict(c, response.ErrCodeAuctionNotOpen, err.Error())
	case errors.Is(err, ErrInvalidBid):
		response.InvalidBid(c, err.Error())
	case errors.Is(err, ErrInvalidAuction):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrUnauthorized):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrContention):
		response.Conflict(c, response.ErrCodeContention, err.Error())
	case errors.Is(err, ErrDirectoryUnavailable):
		response.ServiceUnavailable(c, err.Error())
	default:
		response.InternalError(c, "An unexpected error occurred")
	}
}
