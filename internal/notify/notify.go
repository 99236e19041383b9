package notify

import (
	"context"

	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/rs/zerolog/log"
)

// Event kinds
const (
	EventLedgerAppended = "LEDGER_APPENDED"
	EventAuctionClosed  = "AUCTION_CLOSED"
)

// Event is one notification handed to downstream display/audit systems.
// Only public view data is carried; ceilings never pass through here.
type Event struct {
	Kind    string             `json:"kind"`
	Auction types.AuctionView  `json:"auction"`
	Entry   *types.BidView     `json:"ledger_entry,omitempty"`
}

// Sink receives events. Implementations must tolerate at-least-once
// delivery; the engine never rolls back on sink failure.
type Sink interface {
	Deliver(event Event) error
}

// LogSink writes every event to the structured log. It stands in for
// the platform's notification fan-out collaborator.
type LogSink struct{}

func (LogSink) Deliver(event Event) error {
	logger := log.With().
		Str("component", "notify").
		Str("kind", event.Kind).
		Str("auction_id", event.Auction.AuctionID).
		Str("status", event.Auction.Status).
		Float64("current_price", event.Auction.CurrentPrice).
		Logger()

	if event.Entry != nil {
		logger.Info().
			Int64("sequence_number", event.Entry.SequenceNumber).
			Str("vendor_id", event.Entry.VendorID).
			Float64("amount", event.Entry.Amount).
			Msg("delivered ledger notification")
		return nil
	}

	logger.Info().Str("winner", event.Auction.CurrentLeader).Msg("delivered auction notification")
	return nil
}

// Dispatcher fans events out to a sink from a background goroutine.
// Publish never blocks the calling transaction path: when the buffer is
// full the event is dropped with a warning.
type Dispatcher struct {
	sink   Sink
	events chan Event
}

// NewDispatcher creates a dispatcher with the given buffer size.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	return &Dispatcher{
		sink:   sink,
		events: make(chan Event, buffer),
	}
}

// Publish enqueues an event for delivery. Fire-and-forget.
func (d *Dispatcher) Publish(event Event) {
	select {
	case d.events <- event:
	default:
		log.Warn().
			Str("component", "notify").
			Str("kind", event.Kind).
			Str("auction_id", event.Auction.AuctionID).
			Msg("notification buffer full, dropping event")
	}
}

// Start drains the event buffer until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	logger := log.With().Str("component", "notify").Logger()
	logger.Info().Msg("starting notification dispatcher")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down notification dispatcher")
			return
		case event := <-d.events:
			if err := d.sink.Deliver(event); err != nil {
				logger.Error().
					Err(err).
					Str("kind", event.Kind).
					Str("auction_id", event.Auction.AuctionID).
					Msg("failed to deliver notification")
			}
		}
	}
}
