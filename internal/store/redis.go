package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/atmx/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Locked read-modify-write
// operations always read the primary.
//
// Every write bumps a per-key generation before deleting the cached entry.
// A loader only caches what it read if the generation it started under is
// still current, so a read that raced a write cannot leave the older value
// cached until the TTL expires.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	group   singleflight.Group

	mu   sync.Mutex
	gens map[string]uint64
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		gens:    make(map[string]uint64),
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	key := model.AuctionKey(a.BatchID)
	g := s.generation(key)
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.fill(ctx, key, g, a)
	return nil
}

func (s *CachedStore) UpdateAuction(ctx context.Context, batchID uint32, fn AuctionFunc) (*model.Auction, error) {
	a, err := s.primary.UpdateAuction(ctx, batchID, fn)
	if err != nil {
		return nil, err
	}
	// Invalidate cache; next read will re-populate.
	s.invalidate(ctx, model.AuctionKey(batchID))
	return a, nil
}

func (s *CachedStore) PlaceBid(ctx context.Context, batchID uint32, fn BidFunc) (*model.Auction, *model.Bid, error) {
	a, b, err := s.primary.PlaceBid(ctx, batchID, fn)
	if err != nil {
		return nil, nil, err
	}
	s.invalidate(ctx, model.AuctionKey(batchID))
	return a, b, nil
}

func (s *CachedStore) SettleBid(ctx context.Context, bidID string, fn SettleFunc) (*model.Bid, error) {
	b, err := s.primary.SettleBid(ctx, bidID, fn)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, bidKey(bidID))
	return b, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, batchID uint32) (*model.Auction, error) {
	key := model.AuctionKey(batchID)
	var a model.Auction
	if s.lookup(ctx, key, &a) {
		return &a, nil
	}

	// Cache miss: concurrent readers share one primary read.
	v, err, _ := s.group.Do(key, func() (any, error) {
		g := s.generation(key)
		a, err := s.primary.GetAuction(ctx, batchID)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, key, g, a)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Auction).Clone(), nil
}

func (s *CachedStore) GetBid(ctx context.Context, id string) (*model.Bid, error) {
	key := bidKey(id)
	var b model.Bid
	if s.lookup(ctx, key, &b) {
		return &b, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		g := s.generation(key)
		b, err := s.primary.GetBid(ctx, id)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, key, g, b)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Bid).Clone(), nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx)
}

func (s *CachedStore) ListBidsByAuction(ctx context.Context, batchID uint32) ([]model.Bid, error) {
	return s.primary.ListBidsByAuction(ctx, batchID)
}

func (s *CachedStore) ListBidsByBidder(ctx context.Context, bidder string) ([]model.Bid, error) {
	return s.primary.ListBidsByBidder(ctx, bidder)
}

// --- Cache helpers ---

func (s *CachedStore) lookup(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// fill caches v, read from the primary under generation g, unless key was
// written since. A write that lands between the check and the Set is
// caught by the second check.
func (s *CachedStore) fill(ctx context.Context, key string, g uint64, v any) {
	if !s.fresh(key, g) {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
	if !s.fresh(key, g) {
		s.rdb.Del(ctx, key)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	s.mu.Lock()
	s.gens[key]++
	s.mu.Unlock()
	s.rdb.Del(ctx, key)
}

func (s *CachedStore) generation(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[key]
}

func (s *CachedStore) fresh(key string, g uint64) bool {
	return s.generation(key) == g
}
