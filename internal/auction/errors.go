package auction

import "errors"

// Validation errors are client-caused and never retried by the engine.
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionNotOpen  = errors.New("auction is not open for bidding")
	ErrInvalidBid      = errors.New("invalid bid")
	ErrInvalidAuction  = errors.New("invalid auction parameters")
	ErrUnauthorized    = errors.New("principal is not a vendor")
)

// Infrastructure errors
var (
	// ErrContention is surfaced after the conditional-write retry budget
	// is exhausted; the whole request is safe to retry at the client.
	ErrContention = errors.New("auction update contention")

	// ErrDirectoryUnavailable means the persistence layer failed outside
	// a version conflict. No partial state is left behind.
	ErrDirectoryUnavailable = errors.New("auction directory unavailable")
)

// errVersionMismatch is the internal signal that a conditional write
// lost the race; the operation re-reads and recomputes.
var errVersionMismatch = errors.New("auction version mismatch")
