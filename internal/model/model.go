// Package model defines the core domain types shared across the auction engine.
// Prices and amounts are uint64 minor units of the payment asset, never
// float64 for money.
package model

import (
	"fmt"
	"time"
)

// AuctionStatus is the lifecycle state of an auction batch.
type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionSoldOut   AuctionStatus = "sold_out"
	AuctionFinalized AuctionStatus = "finalized"
	AuctionCancelled AuctionStatus = "cancelled"
)

// BidStatus is the settlement state of a single bid.
type BidStatus string

const (
	BidPending  BidStatus = "pending"
	BidClaiming BidStatus = "claiming" // payout in flight or awaiting reconciliation
	BidAccepted BidStatus = "accepted"
	BidRefunded BidStatus = "refunded"
)

// Auction is one descending-price batch of credits.
// Mutated only by bid placement and finalize; immutable once finalized or
// cancelled.
type Auction struct {
	BatchID          uint32        `json:"batch_id" db:"batch_id"`
	Authority        string        `json:"authority" db:"authority"`
	TotalSupply      uint64        `json:"total_supply" db:"total_supply"`
	RemainingSupply  uint64        `json:"remaining_supply" db:"remaining_supply"`
	StartPrice       uint64        `json:"start_price" db:"start_price"`
	ReservePrice     uint64        `json:"reserve_price" db:"reserve_price"`
	CurrentPrice     uint64        `json:"current_price" db:"current_price"` // clearing price once finalized
	StartTime        time.Time     `json:"start_time" db:"start_time"`
	EndTime          time.Time     `json:"end_time" db:"end_time"`
	Status           AuctionStatus `json:"status" db:"status"`
	TotalRaised      uint64        `json:"total_raised" db:"total_raised"`
	ParticipantCount uint32        `json:"participant_count" db:"participant_count"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	FinalizedAt      *time.Time    `json:"finalized_at,omitempty" db:"finalized_at"`
}

// Clone returns a deep copy of a.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		c.FinalizedAt = &t
	}
	return &c
}

// Bid is one accepted bid request. Its payment is held in escrow from the
// moment it is created until it is claimed.
type Bid struct {
	ID            string     `json:"id" db:"id"`
	BatchID       uint32     `json:"batch_id" db:"batch_id"`
	Bidder        string     `json:"bidder" db:"bidder"`
	TokenAmount   uint64     `json:"token_amount" db:"token_amount"`
	PricePerToken uint64     `json:"price_per_token" db:"price_per_token"`
	TotalCost     uint64     `json:"total_cost" db:"total_cost"` // TokenAmount × PricePerToken
	Timestamp     time.Time  `json:"timestamp" db:"timestamp"`
	Status        BidStatus  `json:"status" db:"status"`
	Refund        uint64     `json:"refund" db:"refund"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
}

// Clone returns a deep copy of b.
func (b *Bid) Clone() *Bid {
	c := *b
	if b.ClaimedAt != nil {
		t := *b.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

// AuctionKey is the repository key of an auction batch.
func AuctionKey(batchID uint32) string {
	return fmt.Sprintf("auction:%d", batchID)
}
