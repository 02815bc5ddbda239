package auction

import (
	"errors"

	"github.com/atmx/auction-engine/internal/decay"
)

var (
	// ErrInvalidPricing is returned when start price does not exceed a
	// positive reserve price.
	ErrInvalidPricing = errors.New("auction: start price must be greater than a positive reserve price")

	// ErrInvalidDuration is returned when the auction window is shorter than a second.
	ErrInvalidDuration = errors.New("auction: duration must be at least one second")

	// ErrInvalidSupply is returned when an auction is created with no credits.
	ErrInvalidSupply = errors.New("auction: total supply must be greater than zero")

	// ErrInvalidAmount is returned for a bid of zero credits.
	ErrInvalidAmount = errors.New("auction: bid amount must be greater than zero")

	ErrAuctionNotActive     = errors.New("auction: auction is not active")
	ErrAuctionEnded         = errors.New("auction: auction has already ended")
	ErrInvalidAuctionStatus = errors.New("auction: invalid auction status for this operation")

	// ErrInsufficientTokens is returned when a bid asks for more credits
	// than remain in the batch.
	ErrInsufficientTokens = errors.New("auction: insufficient tokens remaining")

	// ErrMathOverflow is returned when a multiplication or subtraction
	// would wrap.
	ErrMathOverflow = decay.ErrOverflow

	ErrAuctionNotEnded     = errors.New("auction: auction has not ended yet")
	ErrAuctionNotFinalized = errors.New("auction: auction has not been finalized yet")
	ErrBidAlreadyProcessed = errors.New("auction: bid has already been processed")
	ErrHasParticipants     = errors.New("auction: cannot cancel auction with participants")

	// ErrUnauthorized is returned when the caller is not the auction authority.
	ErrUnauthorized = errors.New("auction: caller is not the auction authority")
)
