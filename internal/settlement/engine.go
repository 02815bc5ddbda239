// Package settlement runs auction operations end to end: it prices and
// escrows bids, fixes the clearing price, and settles each bid against it.
//
// Every operation except Claim executes as one store transaction on the
// record it touches. Ledger calls made inside that transaction are
// reversed if the transaction does not commit, so a failed operation
// leaves neither storage nor balances changed. Claim reserves the bid
// first and pays out outside the transaction; see its doc.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/auction-engine/internal/auction"
	"github.com/atmx/auction-engine/internal/decay"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/metrics"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/store"
)

// ErrInvalidBidder is returned when a bid names no bidder, or names an
// account the engine reserves for escrow.
var ErrInvalidBidder = errors.New("settlement: invalid bidder")

// Engine executes auction operations against a store and a ledger.
type Engine struct {
	store  store.Store
	ledger ledger.Ledger
	pub    Publisher // optional
	now    func() time.Time
}

// NewEngine creates an engine that reads wall-clock time.
// Pass nil for pub if events are not needed.
func NewEngine(st store.Store, l ledger.Ledger, pub Publisher) *Engine {
	return &Engine{
		store:  st,
		ledger: l,
		pub:    pub,
		now:    time.Now,
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// CreateAuction opens a new auction batch owned by p.Authority.
func (e *Engine) CreateAuction(ctx context.Context, p auction.Params) (*model.Auction, error) {
	now := e.now()
	a, err := auction.New(p, now)
	if err != nil {
		return nil, err
	}
	if err := e.store.CreateAuction(ctx, a); err != nil {
		return nil, err
	}

	metrics.AuctionTransitions.WithLabelValues(string(a.Status)).Inc()
	metrics.ActiveAuctions.Inc()
	slog.Info("auction created",
		"batch_id", a.BatchID,
		"authority", a.Authority,
		"total_supply", a.TotalSupply,
		"start_price", a.StartPrice,
		"reserve_price", a.ReservePrice,
		"end_time", a.EndTime,
	)
	e.publish(auctionEvent(EventAuctionCreated, a, now))
	return a, nil
}

// PlaceBid buys amount credits for bidder at the auction's current decay
// price. The full cost moves from the bidder into the auction's escrow in
// the same transaction that records the bid and reduces supply.
func (e *Engine) PlaceBid(ctx context.Context, batchID uint32, bidder string, amount uint64) (*model.Bid, error) {
	start := time.Now()
	if bidder == "" || ledger.IsEscrowAccount(bidder) {
		return nil, ErrInvalidBidder
	}

	escrow := ledger.EscrowAccount(batchID)
	var escrowed uint64

	a, bid, err := e.store.PlaceBid(ctx, batchID, func(a *model.Auction) (*model.Bid, error) {
		now := e.now()
		if err := auction.CheckBid(a, amount, now); err != nil {
			return nil, err
		}
		price, err := decay.At(a, now)
		if err != nil {
			return nil, err
		}
		cost, err := auction.Cost(amount, price)
		if err != nil {
			return nil, err
		}

		// Apply to a copy first so every guard has passed before money moves.
		next := a.Clone()
		if err := auction.RecordBid(next, amount, price, cost, now); err != nil {
			return nil, err
		}
		if err := e.ledger.Transfer(ctx, bidder, escrow, cost); err != nil {
			return nil, fmt.Errorf("escrow %d from %s: %w", cost, bidder, err)
		}
		escrowed = cost
		*a = *next

		return &model.Bid{
			ID:            uuid.New().String(),
			BatchID:       a.BatchID,
			Bidder:        bidder,
			TokenAmount:   amount,
			PricePerToken: price,
			TotalCost:     cost,
			Timestamp:     now.UTC(),
			Status:        model.BidPending,
		}, nil
	})
	metrics.BidLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if escrowed > 0 {
			e.reverse(ctx, escrow, bidder, escrowed, "bid")
		}
		metrics.BidsTotal.WithLabelValues(outcome(err)).Inc()
		slog.Debug("bid rejected", "batch_id", batchID, "bidder", bidder, "amount", amount, "err", err)
		return nil, err
	}

	metrics.BidsTotal.WithLabelValues(outcome(nil)).Inc()
	metrics.EscrowVolume.Add(float64(bid.TotalCost))
	slog.Info("bid placed",
		"bid_id", bid.ID,
		"batch_id", batchID,
		"bidder", bidder,
		"amount", amount,
		"price", bid.PricePerToken,
		"cost", bid.TotalCost,
		"remaining_supply", a.RemainingSupply,
	)

	ev := auctionEvent(EventBidPlaced, a, bid.Timestamp)
	ev.BidID, ev.Bidder, ev.Amount, ev.Price = bid.ID, bid.Bidder, bid.TokenAmount, bid.PricePerToken
	e.publish(ev)
	if a.Status == model.AuctionSoldOut {
		metrics.AuctionTransitions.WithLabelValues(string(a.Status)).Inc()
		slog.Info("auction sold out", "batch_id", batchID, "last_price", a.CurrentPrice)
		e.publish(auctionEvent(EventAuctionSoldOut, a, bid.Timestamp))
	}
	return bid, nil
}

// Finalize fixes the clearing price of an auction that has ended or sold
// out. Only the auction authority may finalize.
func (e *Engine) Finalize(ctx context.Context, batchID uint32, caller string) (uint64, error) {
	var clearing uint64
	a, err := e.store.UpdateAuction(ctx, batchID, func(a *model.Auction) error {
		if err := auction.Authorize(a, caller); err != nil {
			return err
		}
		c, err := auction.Finalize(a, e.now())
		if err != nil {
			return err
		}
		clearing = c
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.AuctionTransitions.WithLabelValues(string(a.Status)).Inc()
	metrics.ActiveAuctions.Dec()
	slog.Info("auction finalized",
		"batch_id", batchID,
		"clearing_price", clearing,
		"remaining_supply", a.RemainingSupply,
		"total_raised", a.TotalRaised,
	)
	e.publish(auctionEvent(EventAuctionFinalized, a, *a.FinalizedAt))
	return clearing, nil
}

// Claim settles a bid against its auction's clearing price: the
// overpayment goes back to the bidder, the purchased credits are minted to
// them, and the bid is marked accepted. A bid settles at most once.
//
// The bid is first moved to claiming in its own transaction, so the payout
// runs at most once even if recording the result fails. A failed payout
// puts the bid back to pending; a failed final commit leaves it claiming
// for reconciliation.
func (e *Engine) Claim(ctx context.Context, bidID string) (uint64, error) {
	b, err := e.store.SettleBid(ctx, bidID, func(a *model.Auction, b *model.Bid) error {
		if a.Status != model.AuctionFinalized {
			return auction.ErrAuctionNotFinalized
		}
		if b.Status != model.BidPending {
			return auction.ErrBidAlreadyProcessed
		}
		r, err := auction.Refund(b, a.CurrentPrice)
		if err != nil {
			return err
		}
		b.Status = model.BidClaiming
		b.Refund = r
		return nil
	})
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues(outcome(err)).Inc()
		return 0, err
	}
	refund := b.Refund

	if err := e.payOut(ctx, b); err != nil {
		e.release(ctx, bidID)
		metrics.ClaimsTotal.WithLabelValues(outcome(err)).Inc()
		return 0, err
	}

	b, err = e.store.SettleBid(ctx, bidID, func(_ *model.Auction, b *model.Bid) error {
		if b.Status != model.BidClaiming {
			return auction.ErrBidAlreadyProcessed
		}
		claimedAt := e.now().UTC()
		b.Status = model.BidAccepted
		b.ClaimedAt = &claimedAt
		return nil
	})
	if err != nil {
		slog.Error("claim paid out but not recorded, bid left claiming for reconciliation",
			"bid_id", bidID, "refund", refund, "err", err)
		metrics.ClaimsTotal.WithLabelValues(outcome(err)).Inc()
		return 0, err
	}

	metrics.ClaimsTotal.WithLabelValues(outcome(nil)).Inc()
	metrics.RefundVolume.Add(float64(refund))
	slog.Info("bid claimed",
		"bid_id", b.ID,
		"batch_id", b.BatchID,
		"bidder", b.Bidder,
		"credits", b.TokenAmount,
		"refund", refund,
	)
	e.publish(Event{
		Type:    EventBidClaimed,
		BatchID: b.BatchID,
		Status:  model.AuctionFinalized,
		BidID:   b.ID,
		Bidder:  b.Bidder,
		Amount:  b.TokenAmount,
		Refund:  refund,
		At:      *b.ClaimedAt,
	})
	return refund, nil
}

// payOut returns the overpayment of a claiming bid from escrow and mints
// its credits. If minting fails the refund is reversed.
func (e *Engine) payOut(ctx context.Context, b *model.Bid) error {
	escrow := ledger.EscrowAccount(b.BatchID)
	if b.Refund > 0 {
		if err := e.ledger.Transfer(ctx, escrow, b.Bidder, b.Refund); err != nil {
			return fmt.Errorf("refund %d to %s: %w", b.Refund, b.Bidder, err)
		}
	}
	if err := e.ledger.MintCredit(ctx, b.Bidder, b.TokenAmount); err != nil {
		if b.Refund > 0 {
			e.reverse(ctx, b.Bidder, escrow, b.Refund, "refund")
		}
		return fmt.Errorf("mint %d credits to %s: %w", b.TokenAmount, b.Bidder, err)
	}
	return nil
}

// release returns a claiming bid whose payout did not happen to pending.
func (e *Engine) release(ctx context.Context, bidID string) {
	_, err := e.store.SettleBid(context.WithoutCancel(ctx), bidID, func(_ *model.Auction, b *model.Bid) error {
		if b.Status != model.BidClaiming {
			return auction.ErrBidAlreadyProcessed
		}
		b.Status = model.BidPending
		b.Refund = 0
		return nil
	})
	if err != nil {
		slog.Error("failed to release claiming bid", "bid_id", bidID, "err", err)
	}
}

// Cancel closes an auction that has not received any bids. Only the
// auction authority may cancel.
func (e *Engine) Cancel(ctx context.Context, batchID uint32, caller string) error {
	a, err := e.store.UpdateAuction(ctx, batchID, func(a *model.Auction) error {
		if err := auction.Authorize(a, caller); err != nil {
			return err
		}
		return auction.Cancel(a)
	})
	if err != nil {
		return err
	}

	metrics.AuctionTransitions.WithLabelValues(string(a.Status)).Inc()
	metrics.ActiveAuctions.Dec()
	slog.Info("auction cancelled", "batch_id", batchID)
	e.publish(auctionEvent(EventAuctionCancelled, a, e.now()))
	return nil
}

// RestoreGauges sets the active auction gauge from storage. Call it once at
// startup, before serving, so the gauge survives restarts. It returns the
// number of auctions still open to bids or awaiting finalization.
func (e *Engine) RestoreGauges(ctx context.Context) (int, error) {
	auctions, err := e.store.ListAuctions(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore gauges: %w", err)
	}
	open := 0
	for _, a := range auctions {
		if a.Status == model.AuctionActive || a.Status == model.AuctionSoldOut {
			open++
		}
	}
	metrics.ActiveAuctions.Set(float64(open))
	return open, nil
}

// reverse undoes a ledger transfer that belongs to an aborted operation.
// It runs even if the request context is already cancelled.
func (e *Engine) reverse(ctx context.Context, from, to string, amount uint64, what string) {
	if err := e.ledger.Transfer(context.WithoutCancel(ctx), from, to, amount); err != nil {
		slog.Error("failed to reverse transfer",
			"kind", what, "from", from, "to", to, "amount", amount, "err", err)
		return
	}
	slog.Warn("reversed transfer of aborted operation",
		"kind", what, "from", from, "to", to, "amount", amount)
}

func (e *Engine) publish(ev Event) {
	if e.pub != nil {
		e.pub.Publish(ev)
	}
}

// outcome labels an operation result for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case IsRejection(err):
		return "rejected"
	default:
		return "error"
	}
}
