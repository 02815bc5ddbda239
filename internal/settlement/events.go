package settlement

import (
	"time"

	"github.com/atmx/auction-engine/internal/model"
)

// Event types published after a state change commits.
const (
	EventAuctionCreated   = "auction_created"
	EventBidPlaced        = "bid_placed"
	EventAuctionSoldOut   = "auction_sold_out"
	EventAuctionFinalized = "auction_finalized"
	EventAuctionCancelled = "auction_cancelled"
	EventBidClaimed       = "bid_claimed"
)

// Event describes a committed change to an auction or bid.
type Event struct {
	Type            string              `json:"type"`
	BatchID         uint32              `json:"batch_id"`
	Status          model.AuctionStatus `json:"status"`
	BidID           string              `json:"bid_id,omitempty"`
	Bidder          string              `json:"bidder,omitempty"`
	Amount          uint64              `json:"amount,omitempty"`
	Price           uint64              `json:"price,omitempty"`
	Refund          uint64              `json:"refund,omitempty"`
	RemainingSupply uint64              `json:"remaining_supply"`
	At              time.Time           `json:"at"`
}

// Publisher receives events. Publish must not block.
type Publisher interface {
	Publish(Event)
}

func auctionEvent(typ string, a *model.Auction, at time.Time) Event {
	return Event{
		Type:            typ,
		BatchID:         a.BatchID,
		Status:          a.Status,
		Price:           a.CurrentPrice,
		RemainingSupply: a.RemainingSupply,
		At:              at,
	}
}
