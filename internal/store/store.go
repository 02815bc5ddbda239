// Package store defines the keyed repository for auctions and bids.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for development and testing).
//
// Mutations are expressed as functions run with exclusive access to the
// record they touch. A function that returns an error leaves storage
// unchanged; otherwise its result is committed as one unit.
package store

import (
	"context"
	"errors"

	"github.com/atmx/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when an auction or bid does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when creating an auction whose batch
	// number is taken.
	ErrAlreadyExists = errors.New("store: already exists")
)

// AuctionFunc mutates an auction in place.
type AuctionFunc func(a *model.Auction) error

// BidFunc mutates an auction in place and returns the bid to insert with it.
type BidFunc func(a *model.Auction) (*model.Bid, error)

// SettleFunc mutates a bid in place. The auction is read-only.
type SettleFunc func(a *model.Auction, b *model.Bid) error

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Auction operations ---

	// CreateAuction persists a new auction.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// GetAuction retrieves an auction by batch number.
	GetAuction(ctx context.Context, batchID uint32) (*model.Auction, error)

	// ListAuctions returns all auctions.
	ListAuctions(ctx context.Context) ([]model.Auction, error)

	// UpdateAuction runs fn on a fresh read of the auction while holding
	// its key, and persists the result.
	UpdateAuction(ctx context.Context, batchID uint32, fn AuctionFunc) (*model.Auction, error)

	// --- Bid operations ---

	// PlaceBid runs fn on a fresh read of the auction while holding its
	// key, then persists the updated auction and the returned bid together.
	PlaceBid(ctx context.Context, batchID uint32, fn BidFunc) (*model.Auction, *model.Bid, error)

	// SettleBid runs fn on a fresh read of the bid while holding its key,
	// and persists the updated bid.
	SettleBid(ctx context.Context, bidID string, fn SettleFunc) (*model.Bid, error)

	// GetBid retrieves a bid by ID.
	GetBid(ctx context.Context, id string) (*model.Bid, error)

	// ListBidsByAuction returns all bids for an auction in placement order.
	ListBidsByAuction(ctx context.Context, batchID uint32) ([]model.Bid, error)

	// ListBidsByBidder returns all bids placed by a bidder.
	ListBidsByBidder(ctx context.Context, bidder string) ([]model.Bid, error)
}
