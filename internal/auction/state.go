// Package auction holds the lifecycle rules of a single auction batch:
// parameter validation, the bid and settlement arithmetic, and the guarded
// transitions
//
//	active → sold_out → finalized
//	active → finalized
//	active → cancelled
//
// Every function checks all of its guards before it mutates anything, so a
// returned error always means the auction is unchanged.
package auction

import (
	"math/bits"
	"time"

	"github.com/atmx/auction-engine/internal/model"
)

// Params describes a new auction batch.
type Params struct {
	BatchID      uint32
	Authority    string
	TotalSupply  uint64
	StartPrice   uint64
	ReservePrice uint64
	Duration     time.Duration
}

// New validates p and returns an active auction whose window opens at now.
func New(p Params, now time.Time) (*model.Auction, error) {
	if p.ReservePrice == 0 || p.StartPrice <= p.ReservePrice {
		return nil, ErrInvalidPricing
	}
	// The decay window has one-second resolution.
	if p.Duration < time.Second {
		return nil, ErrInvalidDuration
	}
	if p.TotalSupply == 0 {
		return nil, ErrInvalidSupply
	}

	start := now.UTC().Truncate(time.Second)
	return &model.Auction{
		BatchID:         p.BatchID,
		Authority:       p.Authority,
		TotalSupply:     p.TotalSupply,
		RemainingSupply: p.TotalSupply,
		StartPrice:      p.StartPrice,
		ReservePrice:    p.ReservePrice,
		CurrentPrice:    p.StartPrice,
		StartTime:       start,
		EndTime:         start.Add(p.Duration.Truncate(time.Second)),
		Status:          model.AuctionActive,
		CreatedAt:       now.UTC(),
	}, nil
}

// CheckBid reports whether a bid of amount credits may be placed at now.
func CheckBid(a *model.Auction, amount uint64, now time.Time) error {
	if a.Status != model.AuctionActive {
		return ErrAuctionNotActive
	}
	if !now.Before(a.EndTime) {
		return ErrAuctionEnded
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	if amount > a.RemainingSupply {
		return ErrInsufficientTokens
	}
	return nil
}

// RecordBid applies an accepted bid to a. The price becomes the auction's
// last quoted price; exhausting the supply moves the auction to sold_out.
func RecordBid(a *model.Auction, amount, price, cost uint64, now time.Time) error {
	if err := CheckBid(a, amount, now); err != nil {
		return err
	}
	raised, carry := bits.Add64(a.TotalRaised, cost, 0)
	if carry != 0 {
		return ErrMathOverflow
	}
	if a.ParticipantCount == ^uint32(0) {
		return ErrMathOverflow
	}

	a.RemainingSupply -= amount
	a.TotalRaised = raised
	a.ParticipantCount++
	a.CurrentPrice = price

	if a.RemainingSupply == 0 {
		a.Status = model.AuctionSoldOut
	}
	return nil
}

// Finalize fixes the clearing price of a and returns it.
//
// A sold-out auction clears at the price of its final accepted bid, any
// other auction at its reserve price. The cached snapshot is used as is;
// decay is not recomputed here.
func Finalize(a *model.Auction, now time.Time) (uint64, error) {
	if a.Status != model.AuctionActive && a.Status != model.AuctionSoldOut {
		return 0, ErrInvalidAuctionStatus
	}
	if now.Before(a.EndTime) && a.RemainingSupply != 0 {
		return 0, ErrAuctionNotEnded
	}

	clearing := a.ReservePrice
	if a.RemainingSupply == 0 {
		clearing = a.CurrentPrice
	}

	finalizedAt := now.UTC()
	a.Status = model.AuctionFinalized
	a.CurrentPrice = clearing
	a.FinalizedAt = &finalizedAt
	return clearing, nil
}

// Cancel closes an auction that has not received any bids.
func Cancel(a *model.Auction) error {
	if a.Status != model.AuctionActive {
		return ErrInvalidAuctionStatus
	}
	if a.ParticipantCount != 0 {
		return ErrHasParticipants
	}
	a.Status = model.AuctionCancelled
	return nil
}

// Authorize reports whether caller is the recognized authority of a.
func Authorize(a *model.Auction, caller string) error {
	if caller == "" || caller != a.Authority {
		return ErrUnauthorized
	}
	return nil
}

// Cost returns amount × price, failing instead of wrapping.
func Cost(amount, price uint64) (uint64, error) {
	hi, lo := bits.Mul64(amount, price)
	if hi != 0 {
		return 0, ErrMathOverflow
	}
	return lo, nil
}

// Refund returns the overpayment of b at the given clearing price:
//
//	refund = TotalCost - TokenAmount × clearing
//
// A negative result means the bid paid less than the clearing price and is reported
// as ErrMathOverflow rather than clamped.
func Refund(b *model.Bid, clearing uint64) (uint64, error) {
	owed, err := Cost(b.TokenAmount, clearing)
	if err != nil {
		return 0, err
	}
	refund, borrow := bits.Sub64(b.TotalCost, owed, 0)
	if borrow != 0 {
		return 0, ErrMathOverflow
	}
	return refund, nil
}
