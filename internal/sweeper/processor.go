package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greencycle/ewaste-auction/internal/auction"
	"github.com/greencycle/ewaste-auction/internal/notify"
	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/greencycle/ewaste-auction/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Processor closes open auctions past their end time. It is safe to run
/// on any schedule and from multiple triggers at once: each closure is a
// conditional write, so exactly one invocation wins each transition and
// the rest observe a terminal status and do nothing.
type Processor struct {
	dir        auction.Directory
	dispatcher *notify.Dispatcher
	interval   time.Duration // Time between sweep passes
}

// NewProcessor creates a sweeper on the given database connection.
func NewProcessor(gormDB *gorm.DB, dispatcher *notify.Dispatcher, interval time.Duration) *Processor {
	return &Processor{
		dir:        auction.NewDatabase(gormDB),
		dispatcher: dispatcher,
		interval:   interval,
	}
}

// Result summarizes one sweep pass.
type Result struct {
	Scanned       int `json:"scanned"`
	Closed        int `json:"closed"`
	ExpiredUnsold int `json:"expired_unsold"`
	Contended     int `json:"contended"`
}

// Start begins the periodic sweep loop.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "expiration_sweeper").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting expiration sweeper")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down expiration sweeper")
			return
		case <-ticker.C:
			if _, err := p.Sweep(time.Now().UTC()); err != nil {
				logger.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}

// Sweep closes every open auction whose end time is at or before now.
// Auctions with a leader close sold; auctions that never drew a bid
// expire unsold. A contended closure is logged and skipped; the next
// pass retries it. Sweeping an already-terminal auction is a no-op.
func (p *Processor) Sweep(now time.Time) (Result, error) {
	logger := log.With().Str("component", "expiration_sweeper").Logger()

	due, err := p.dir.ListOpenAuctionsEndingBefore(now)
	if err != nil {
		return Result{}, err
	}

	result := Result{Scanned: len(due)}
	logger.Info().Int("due_count", len(due)).Time("now", now).Msg("sweeping expired auctions")

	for i := range due {
		a := &due[i]

		newStatus := types.AuctionStatusExpiredUnsold
		if a.CurrentLeader != "" {
			newStatus = types.AuctionStatusClosed
		}

		if err := p.dir.CloseAuction(a, newStatus); err != nil {
			if errors.Is(err, auction.ErrContention) {
				// Lost to a last-second bid or a concurrent sweep.
				result.Contended++
				logger.Warn().
					Str("auction_id", a.AuctionID).
					Msg("conditional close lost race, deferring to next pass")
				continue
			}
			logger.Error().
				Err(err).
				Str("auction_id", a.AuctionID).
				Msg("failed to close auction")
			continue
		}

		a.Status = newStatus
		a.Version++

		switch newStatus {
		case types.AuctionStatusClosed:
			result.Closed++
			logger.Info().
				Str("auction_id", a.AuctionID).
				Str("winner", a.CurrentLeader).
				Float64("final_price", a.CurrentPrice).
				Msg("auction closed with winner")
		case types.AuctionStatusExpiredUnsold:
			result.ExpiredUnsold++
			logger.Info().
				Str("auction_id", a.AuctionID).
				Msg("auction expired unsold")
		}

		if p.dispatcher != nil {
			p.dispatcher.Publish(notify.Event{
				Kind:    notify.EventAuctionClosed,
				Auction: types.PublicAuctionView(a),
			})
		}
	}

	return result, nil
}

// GinHandlers contains HTTP handlers for sweep endpoints
type GinHandlers struct {
	processor *Processor
}

func NewGinHandlers(processor *Processor) *GinHandlers {
	return &GinHandlers{
		processor: processor,
	}
}

// SweepHandler handles POST requests to run one sweep pass immediately,
// for external schedulers that drive expiration themselves.
func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := h.processor.Sweep(time.Now().UTC())
		if err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.Success(c, result)
	}
}
