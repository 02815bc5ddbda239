package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/auction-engine/internal/auction"
	"github.com/atmx/auction-engine/internal/decay"
	"github.com/atmx/auction-engine/internal/model"
)

// Auction returns one auction.
func (e *Engine) Auction(ctx context.Context, batchID uint32) (*model.Auction, error) {
	return e.store.GetAuction(ctx, batchID)
}

// Auctions returns all auctions, or only those in status when it is set.
func (e *Engine) Auctions(ctx context.Context, status model.AuctionStatus) ([]model.Auction, error) {
	auctions, err := e.store.ListAuctions(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return auctions, nil
	}
	filtered := auctions[:0]
	for _, a := range auctions {
		if a.Status == status {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

// Quote returns the price a bid placed now would pay, and the time it was
// computed for.
func (e *Engine) Quote(ctx context.Context, batchID uint32) (uint64, time.Time, error) {
	a, err := e.store.GetAuction(ctx, batchID)
	if err != nil {
		return 0, time.Time{}, err
	}
	if a.Status != model.AuctionActive {
		return 0, time.Time{}, auction.ErrAuctionNotActive
	}
	now := e.now()
	price, err := decay.At(a, now)
	if err != nil {
		return 0, time.Time{}, err
	}
	return price, now.UTC(), nil
}

// Bid returns one bid.
func (e *Engine) Bid(ctx context.Context, id string) (*model.Bid, error) {
	return e.store.GetBid(ctx, id)
}

// BidsForAuction returns the bids on an auction in placement order.
func (e *Engine) BidsForAuction(ctx context.Context, batchID uint32) ([]model.Bid, error) {
	if _, err := e.store.GetAuction(ctx, batchID); err != nil {
		return nil, err
	}
	return e.store.ListBidsByAuction(ctx, batchID)
}

// BidsForBidder returns every bid placed by bidder.
func (e *Engine) BidsForBidder(ctx context.Context, bidder string) ([]model.Bid, error) {
	return e.store.ListBidsByBidder(ctx, bidder)
}

// rejections are guard failures: the request was well-formed but not
// allowed in the auction's current state.
var rejections = []error{
	auction.ErrAuctionNotActive,
	auction.ErrAuctionEnded,
	auction.ErrInvalidAuctionStatus,
	auction.ErrInsufficientTokens,
	auction.ErrAuctionNotEnded,
	auction.ErrAuctionNotFinalized,
	auction.ErrBidAlreadyProcessed,
	auction.ErrHasParticipants,
	auction.ErrUnauthorized,
	auction.ErrInvalidAmount,
	ErrInvalidBidder,
}

// IsRejection reports whether err is a state-machine guard failure rather
// than an infrastructure error.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
