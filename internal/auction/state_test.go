package auction

import (
	"math"
	"testing"
	"time"

	"github.com/atmx/auction-engine/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAuction(t *testing.T) *model.Auction {
	t.Helper()
	a, err := New(Params{
		BatchID:      1,
		Authority:    "registry",
		TotalSupply:  1000,
		StartPrice:   100,
		ReservePrice: 10,
		Duration:     1000 * time.Second,
	}, t0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

// --- Constructor tests ---

func TestNew_Valid(t *testing.T) {
	a := newAuction(t)
	if a.Status != model.AuctionActive {
		t.Errorf("expected active, got %s", a.Status)
	}
	if a.RemainingSupply != 1000 || a.CurrentPrice != 100 {
		t.Errorf("unexpected initial state: remaining=%d current=%d", a.RemainingSupply, a.CurrentPrice)
	}
	if !a.EndTime.Equal(t0.Add(1000 * time.Second)) {
		t.Errorf("expected end %s, got %s", t0.Add(1000*time.Second), a.EndTime)
	}
	if a.TotalRaised != 0 || a.ParticipantCount != 0 || a.FinalizedAt != nil {
		t.Error("new auction should have no bids")
	}
}

func TestNew_TruncatesStartToSecond(t *testing.T) {
	a, err := New(Params{TotalSupply: 1, StartPrice: 2, ReservePrice: 1, Duration: time.Minute},
		t0.Add(750*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.StartTime.Equal(t0) {
		t.Errorf("expected start %s, got %s", t0, a.StartTime)
	}
}

func TestNew_InvalidParams(t *testing.T) {
	valid := Params{TotalSupply: 1000, StartPrice: 100, ReservePrice: 10, Duration: time.Hour}

	tests := []struct {
		name   string
		mutate func(*Params)
		want   error
	}{
		{"zero reserve", func(p *Params) { p.ReservePrice = 0 }, ErrInvalidPricing},
		{"start equals reserve", func(p *Params) { p.StartPrice = 10 }, ErrInvalidPricing},
		{"start below reserve", func(p *Params) { p.StartPrice = 5 }, ErrInvalidPricing},
		{"zero duration", func(p *Params) { p.Duration = 0 }, ErrInvalidDuration},
		{"negative duration", func(p *Params) { p.Duration = -time.Hour }, ErrInvalidDuration},
		{"sub-second duration", func(p *Params) { p.Duration = 500 * time.Millisecond }, ErrInvalidDuration},
		{"zero supply", func(p *Params) { p.TotalSupply = 0 }, ErrInvalidSupply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := New(p, t0)
			if err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// --- Bid tests ---

func TestCheckBid(t *testing.T) {
	a := newAuction(t)

	tests := []struct {
		name   string
		amount uint64
		at     time.Time
		want   error
	}{
		{"valid", 10, t0.Add(time.Second), nil},
		{"whole supply", 1000, t0, nil},
		{"zero amount", 0, t0, ErrInvalidAmount},
		{"exceeds supply", 1001, t0, ErrInsufficientTokens},
		{"at end", 10, a.EndTime, ErrAuctionEnded},
		{"after end", 10, a.EndTime.Add(time.Hour), ErrAuctionEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckBid(a, tt.amount, tt.at); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCheckBid_NotActive(t *testing.T) {
	for _, status := range []model.AuctionStatus{model.AuctionSoldOut, model.AuctionFinalized, model.AuctionCancelled} {
		a := newAuction(t)
		a.Status = status
		if err := CheckBid(a, 1, t0); err != ErrAuctionNotActive {
			t.Errorf("%s: expected ErrAuctionNotActive, got %v", status, err)
		}
	}
}

func TestRecordBid_UpdatesCounters(t *testing.T) {
	a := newAuction(t)
	if err := RecordBid(a, 100, 55, 5500, t0.Add(500*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.RemainingSupply != 900 {
		t.Errorf("expected 900 remaining, got %d", a.RemainingSupply)
	}
	if a.TotalRaised != 5500 {
		t.Errorf("expected 5500 raised, got %d", a.TotalRaised)
	}
	if a.ParticipantCount != 1 {
		t.Errorf("expected 1 participant, got %d", a.ParticipantCount)
	}
	if a.CurrentPrice != 55 {
		t.Errorf("expected current price 55, got %d", a.CurrentPrice)
	}
	if a.Status != model.AuctionActive {
		t.Errorf("expected active, got %s", a.Status)
	}
}

func TestRecordBid_SoldOut(t *testing.T) {
	a := newAuction(t)
	if err := RecordBid(a, 1000, 40, 40000, t0.Add(600*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != model.AuctionSoldOut {
		t.Errorf("expected sold_out, got %s", a.Status)
	}
	if err := RecordBid(a, 1, 40, 40, t0.Add(601*time.Second)); err != ErrAuctionNotActive {
		t.Errorf("expected ErrAuctionNotActive after sell-out, got %v", err)
	}
}

func TestRecordBid_RaisedOverflowLeavesAuctionUnchanged(t *testing.T) {
	a := newAuction(t)
	a.TotalRaised = math.MaxUint64 - 10
	before := *a
	if err := RecordBid(a, 1, 100, 100, t0); err != ErrMathOverflow {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
	if *a != before {
		t.Error("auction mutated on failed bid")
	}
}

// --- Finalize tests ---

func TestFinalize_AfterEndAtReserve(t *testing.T) {
	a := newAuction(t)
	if err := RecordBid(a, 100, 55, 5500, t0.Add(500*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clearing, err := Finalize(a, a.EndTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clearing != 10 {
		t.Errorf("expected clearing at reserve 10, got %d", clearing)
	}
	if a.Status != model.AuctionFinalized || a.CurrentPrice != 10 || a.FinalizedAt == nil {
		t.Errorf("unexpected finalized state: %+v", a)
	}
}

func TestFinalize_SoldOutAtLastBidPrice(t *testing.T) {
	a := newAuction(t)
	if err := RecordBid(a, 600, 70, 42000, t0.Add(300*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RecordBid(a, 400, 40, 16000, t0.Add(600*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Sold out before the window closed: finalize early.
	clearing, err := Finalize(a, t0.Add(601*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clearing != 40 {
		t.Errorf("expected clearing 40, got %d", clearing)
	}
}

func TestFinalize_BeforeEnd(t *testing.T) {
	a := newAuction(t)
	if _, err := Finalize(a, t0.Add(999*time.Second)); err != ErrAuctionNotEnded {
		t.Errorf("expected ErrAuctionNotEnded, got %v", err)
	}
	if a.Status != model.AuctionActive {
		t.Errorf("expected active, got %s", a.Status)
	}
}

func TestFinalize_Twice(t *testing.T) {
	a := newAuction(t)
	if _, err := Finalize(a, a.EndTime); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Finalize(a, a.EndTime); err != ErrInvalidAuctionStatus {
		t.Errorf("expected ErrInvalidAuctionStatus, got %v", err)
	}
}

func TestFinalize_Cancelled(t *testing.T) {
	a := newAuction(t)
	if err := Cancel(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := Finalize(a, a.EndTime); err != ErrInvalidAuctionStatus {
		t.Errorf("expected ErrInvalidAuctionStatus, got %v", err)
	}
}

// --- Cancel tests ---

func TestCancel_NoParticipants(t *testing.T) {
	a := newAuction(t)
	if err := Cancel(a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != model.AuctionCancelled {
		t.Errorf("expected cancelled, got %s", a.Status)
	}
}

func TestCancel_WithParticipants(t *testing.T) {
	a := newAuction(t)
	if err := RecordBid(a, 1, 100, 100, t0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Cancel(a); err != ErrHasParticipants {
		t.Errorf("expected ErrHasParticipants, got %v", err)
	}
}

func TestCancel_NotActive(t *testing.T) {
	a := newAuction(t)
	a.Status = model.AuctionFinalized
	if err := Cancel(a); err != ErrInvalidAuctionStatus {
		t.Errorf("expected ErrInvalidAuctionStatus, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	a := newAuction(t)
	if err := Authorize(a, "registry"); err != nil {
		t.Errorf("authority rejected: %v", err)
	}
	for _, caller := range []string{"", "mallory", "Registry"} {
		if err := Authorize(a, caller); err != ErrUnauthorized {
			t.Errorf("caller %q: expected ErrUnauthorized, got %v", caller, err)
		}
	}
}

// --- Arithmetic tests ---

func TestCost_Overflow(t *testing.T) {
	if _, err := Cost(math.MaxUint64, 2); err != ErrMathOverflow {
		t.Errorf("expected ErrMathOverflow, got %v", err)
	}
	cost, err := Cost(100, 55)
	if err != nil || cost != 5500 {
		t.Errorf("expected 5500, got %d (%v)", cost, err)
	}
}

func TestRefund(t *testing.T) {
	tests := []struct {
		name     string
		bid      model.Bid
		clearing uint64
		want     uint64
	}{
		{"bid at 55 clearing at 10", model.Bid{TokenAmount: 10, TotalCost: 550}, 10, 450},
		{"bid at 55 clearing at 40", model.Bid{TokenAmount: 10, TotalCost: 550}, 40, 150},
		{"bid at 70 clearing at 40", model.Bid{TokenAmount: 5, TotalCost: 350}, 40, 150},
		{"bid at clearing price", model.Bid{TokenAmount: 400, TotalCost: 16000}, 40, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Refund(&tt.bid, tt.clearing)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected refund %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRefund_ClearingAbovePaid(t *testing.T) {
	b := &model.Bid{TokenAmount: 10, TotalCost: 100}
	if _, err := Refund(b, 11); err != ErrMathOverflow {
		t.Errorf("expected ErrMathOverflow, got %v", err)
	}
}
