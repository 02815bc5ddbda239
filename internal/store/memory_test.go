package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-engine/internal/model"
)

func seedAuction(t *testing.T, s Store, batchID uint32, supply uint64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateAuction(context.Background(), &model.Auction{
		BatchID:         batchID,
		Authority:       "registry",
		TotalSupply:     supply,
		RemainingSupply: supply,
		StartPrice:      100,
		ReservePrice:    10,
		CurrentPrice:    100,
		StartTime:       now,
		EndTime:         now.Add(time.Hour),
		Status:          model.AuctionActive,
		CreatedAt:       now,
	}))
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 7, 100)

	a, err := s.GetAuction(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), a.RemainingSupply)

	// Returned records are copies.
	a.RemainingSupply = 0
	again, err := s.GetAuction(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), again.RemainingSupply)

	_, err = s.GetAuction(context.Background(), 8)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 10)
	err := s.CreateAuction(context.Background(), &model.Auction{BatchID: 1})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryStore_ListAuctionsSorted(t *testing.T) {
	s := NewMemoryStore()
	for _, id := range []uint32{3, 1, 2} {
		seedAuction(t, s, id, 10)
	}
	auctions, err := s.ListAuctions(context.Background())
	require.NoError(t, err)
	require.Len(t, auctions, 3)
	for i, a := range auctions {
		assert.Equal(t, uint32(i+1), a.BatchID)
	}
}

func TestMemoryStore_UpdateAuctionErrorLeavesRecord(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 10)
	boom := errors.New("boom")

	_, err := s.UpdateAuction(context.Background(), 1, func(a *model.Auction) error {
		a.Status = model.AuctionCancelled
		return boom
	})
	require.ErrorIs(t, err, boom)

	a, err := s.GetAuction(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.AuctionActive, a.Status)
}

func TestMemoryStore_PlaceBidCommitsBoth(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 10)
	ctx := context.Background()

	a, b, err := s.PlaceBid(ctx, 1, func(a *model.Auction) (*model.Bid, error) {
		a.RemainingSupply -= 4
		return &model.Bid{ID: "b1", BatchID: 1, Bidder: "alice", TokenAmount: 4, Status: model.BidPending}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), a.RemainingSupply)
	assert.Equal(t, "b1", b.ID)

	stored, err := s.GetAuction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), stored.RemainingSupply)

	bids, err := s.ListBidsByAuction(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, "alice", bids[0].Bidder)
}

func TestMemoryStore_PlaceBidErrorCommitsNothing(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 10)
	ctx := context.Background()

	_, _, err := s.PlaceBid(ctx, 1, func(a *model.Auction) (*model.Bid, error) {
		a.RemainingSupply = 0
		return nil, errors.New("rejected")
	})
	require.Error(t, err)

	stored, err := s.GetAuction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stored.RemainingSupply)
	bids, err := s.ListBidsByAuction(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestMemoryStore_SettleBid(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 10)
	ctx := context.Background()

	_, _, err := s.PlaceBid(ctx, 1, func(a *model.Auction) (*model.Bid, error) {
		return &model.Bid{ID: "b1", BatchID: 1, Bidder: "alice", TokenAmount: 1, Status: model.BidPending}, nil
	})
	require.NoError(t, err)

	_, err = s.SettleBid(ctx, "b1", func(a *model.Auction, b *model.Bid) error {
		assert.Equal(t, uint32(1), a.BatchID)
		b.Status = model.BidAccepted
		return nil
	})
	require.NoError(t, err)

	b, err := s.GetBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.BidAccepted, b.Status)

	_, err = s.SettleBid(ctx, "missing", func(*model.Auction, *model.Bid) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListBidsByBidderInOrder(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 10)
	seedAuction(t, s, 2, 10)
	ctx := context.Background()

	for i, batch := range []uint32{2, 1, 2} {
		id := fmt.Sprintf("b%d", i)
		_, _, err := s.PlaceBid(ctx, batch, func(a *model.Auction) (*model.Bid, error) {
			return &model.Bid{ID: id, BatchID: a.BatchID, Bidder: "alice"}, nil
		})
		require.NoError(t, err)
	}

	bids, err := s.ListBidsByBidder(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, bids, 3)
	assert.Equal(t, []string{"b0", "b1", "b2"}, []string{bids[0].ID, bids[1].ID, bids[2].ID})

	none, err := s.ListBidsByBidder(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_ConcurrentUpdatesSerialize(t *testing.T) {
	s := NewMemoryStore()
	seedAuction(t, s, 1, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateAuction(ctx, 1, func(a *model.Auction) error {
				a.RemainingSupply--
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := s.GetAuction(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), a.RemainingSupply)
}

func TestKeyedMutex_ReleasesKeys(t *testing.T) {
	k := keyedMutex{locks: make(map[string]*keyLock)}

	unlock := k.Lock("a")
	other := k.Lock("b") // distinct keys do not block each other
	other()
	unlock()

	assert.Empty(t, k.locks)
}
