package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Read-modify-write operations serialize per record key, so bids on
// different auctions never wait on each other. mu only guards the maps.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     keyedMutex
	auctions map[uint32]*model.Auction
	bids     map[string]*model.Bid
	bidOrder []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     keyedMutex{locks: make(map[string]*keyLock)},
		auctions: make(map[uint32]*model.Auction),
		bids:     make(map[string]*model.Bid),
	}
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[a.BatchID]; ok {
		return fmt.Errorf("auction %d: %w", a.BatchID, ErrAlreadyExists)
	}
	// Store a copy to avoid external mutation.
	s.auctions[a.BatchID] = a.Clone()
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, batchID uint32) (*model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[batchID]
	if !ok {
		return nil, fmt.Errorf("auction %d: %w", batchID, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListAuctions(_ context.Context) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		auctions = append(auctions, *a.Clone())
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].BatchID < auctions[j].BatchID
	})
	return auctions, nil
}

func (s *MemoryStore) UpdateAuction(ctx context.Context, batchID uint32, fn AuctionFunc) (*model.Auction, error) {
	unlock := s.keys.Lock(model.AuctionKey(batchID))
	defer unlock()

	a, err := s.GetAuction(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.auctions[batchID] = a.Clone()
	s.mu.Unlock()
	return a, nil
}

func (s *MemoryStore) PlaceBid(ctx context.Context, batchID uint32, fn BidFunc) (*model.Auction, *model.Bid, error) {
	unlock := s.keys.Lock(model.AuctionKey(batchID))
	defer unlock()

	a, err := s.GetAuction(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	bid, err := fn(a)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bids[bid.ID]; ok {
		return nil, nil, fmt.Errorf("bid %s: %w", bid.ID, ErrAlreadyExists)
	}
	s.auctions[batchID] = a.Clone()
	s.bids[bid.ID] = bid.Clone()
	s.bidOrder = append(s.bidOrder, bid.ID)
	return a, bid, nil
}

func (s *MemoryStore) SettleBid(ctx context.Context, bidID string, fn SettleFunc) (*model.Bid, error) {
	unlock := s.keys.Lock(bidKey(bidID))
	defer unlock()

	b, err := s.GetBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	a, err := s.GetAuction(ctx, b.BatchID)
	if err != nil {
		return nil, err
	}
	if err := fn(a, b); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.bids[bidID] = b.Clone()
	s.mu.Unlock()
	return b, nil
}

func (s *MemoryStore) GetBid(_ context.Context, id string) (*model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bids[id]
	if !ok {
		return nil, fmt.Errorf("bid %s: %w", id, ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) ListBidsByAuction(_ context.Context, batchID uint32) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, id := range s.bidOrder {
		if b := s.bids[id]; b.BatchID == batchID {
			result = append(result, *b.Clone())
		}
	}
	return result, nil
}

func (s *MemoryStore) ListBidsByBidder(_ context.Context, bidder string) ([]model.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bid
	for _, id := range s.bidOrder {
		if b := s.bids[id]; b.Bidder == bidder {
			result = append(result, *b.Clone())
		}
	}
	return result, nil
}

func bidKey(id string) string { return "bid:" + id }

// keyedMutex hands out one mutex per key and forgets it once no goroutine
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
