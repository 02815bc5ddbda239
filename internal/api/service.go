// Package api provides the HTTP handlers for creating auctions, placing and
// claiming bids, and querying auction state, plus a WebSocket hub that
// streams auction events.
//
// Amounts on the wire are integer minor units of the payment asset, with
// *_display companions in decimal asset units. Auction prices are accepted
// in decimal asset units.
package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-engine/internal/auction"
	"github.com/atmx/auction-engine/internal/model"
	"github.com/atmx/auction-engine/internal/settlement"
	"github.com/atmx/auction-engine/internal/units"
)

// AuthorityHeader carries the identity of the caller acting as auction
// authority. Authenticating it is left to the gateway in front of the service.
const AuthorityHeader = "X-Authority"

// Service exposes the settlement engine over HTTP.
type Service struct {
	engine   *settlement.Engine
	decimals int32
}

// NewService creates the HTTP service. decimals is the number of decimal
// places of the payment asset.
func NewService(engine *settlement.Engine, decimals int32) *Service {
	return &Service{
		engine:   engine,
		decimals: decimals,
	}
}

// Routes registers the auction API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/auctions", s.ListAuctions)
	r.Post("/auctions", s.CreateAuction)
	r.Get("/auctions/{batchID}", s.GetAuction)
	r.Get("/auctions/{batchID}/price", s.GetPrice)
	r.Get("/auctions/{batchID}/bids", s.ListAuctionBids)
	r.Post("/auctions/{batchID}/bids", s.PlaceBid)
	r.Post("/auctions/{batchID}/finalize", s.FinalizeAuction)
	r.Post("/auctions/{batchID}/cancel", s.CancelAuction)

	r.Get("/bids/{bidID}", s.GetBid)
	r.Post("/bids/{bidID}/claim", s.ClaimBid)

	r.Get("/bidders/{bidder}/bids", s.ListBidderBids)
}

// --- Request/Response types ---

// CreateAuctionRequest is the JSON body for auction creation.
type CreateAuctionRequest struct {
	BatchID         uint32          `json:"batch_id"`
	TotalSupply     uint64          `json:"total_supply"`  // credits
	StartPrice      decimal.Decimal `json:"start_price"`   // asset units per credit
	ReservePrice    decimal.Decimal `json:"reserve_price"` // asset units per credit
	DurationSeconds int64           `json:"duration_seconds"`
}

// PlaceBidRequest is the JSON body for POST /auctions/{batchID}/bids.
type PlaceBidRequest struct {
	Bidder string `json:"bidder"`
	Amount uint64 `json:"amount"` // credits
}

// PlaceBidResponse is returned from a successful bid.
type PlaceBidResponse struct {
	Bid          *model.Bid      `json:"bid"`
	PriceCharged decimal.Decimal `json:"price_charged_display"`
	TotalCost    decimal.Decimal `json:"total_cost_display"`
}

// QuoteResponse is the current decay price of an auction.
type QuoteResponse struct {
	BatchID      uint32          `json:"batch_id"`
	Price        uint64          `json:"price"`
	PriceDisplay decimal.Decimal `json:"price_display"`
	At           time.Time       `json:"at"`
}

// FinalizeResponse carries the clearing price fixed at finalize.
type FinalizeResponse struct {
	BatchID              uint32          `json:"batch_id"`
	ClearingPrice        uint64          `json:"clearing_price"`
	ClearingPriceDisplay decimal.Decimal `json:"clearing_price_display"`
}

// ClaimResponse carries the overpayment returned to the bidder.
type ClaimResponse struct {
	BidID         string          `json:"bid_id"`
	Refund        uint64          `json:"refund"`
	RefundDisplay decimal.Decimal `json:"refund_display"`
}

// maxDurationSeconds keeps the window representable as a time.Duration.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

// --- HTTP Handlers ---

// CreateAuction handles POST /api/v1/auctions
func (s *Service) CreateAuction(w http.ResponseWriter, r *http.Request) {
	authority := r.Header.Get(AuthorityHeader)
	if authority == "" {
		writeError(w, AuthorityHeader+" header is required", http.StatusUnauthorized)
		return
	}

	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	startPrice, err := units.ToMinor(req.StartPrice, s.decimals)
	if err != nil {
		writeError(w, "start_price: "+err.Error(), http.StatusBadRequest)
		return
	}
	reservePrice, err := units.ToMinor(req.ReservePrice, s.decimals)
	if err != nil {
		writeError(w, "reserve_price: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.DurationSeconds > maxDurationSeconds {
		writeError(w, auction.ErrInvalidDuration.Error(), http.StatusBadRequest)
		return
	}

	a, err := s.engine.CreateAuction(r.Context(), auction.Params{
		BatchID:      req.BatchID,
		Authority:    authority,
		TotalSupply:  req.TotalSupply,
		StartPrice:   startPrice,
		ReservePrice: reservePrice,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, a)
}

// ListAuctions handles GET /api/v1/auctions
// Optionally filtered by ?status=<status>.
func (s *Service) ListAuctions(w http.ResponseWriter, r *http.Request) {
	status := model.AuctionStatus(r.URL.Query().Get("status"))
	auctions, err := s.engine.Auctions(r.Context(), status)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if auctions == nil {
		auctions = []model.Auction{}
	}
	writeJSON(w, http.StatusOK, auctions)
}

// GetAuction handles GET /api/v1/auctions/{batchID}
func (s *Service) GetAuction(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchParam(w, r)
	if !ok {
		return
	}
	a, err := s.engine.Auction(r.Context(), batchID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetPrice handles GET /api/v1/auctions/{batchID}/price
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchParam(w, r)
	if !ok {
		return
	}
	price, at, err := s.engine.Quote(r.Context(), batchID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		BatchID:      batchID,
		Price:        price,
		PriceDisplay: units.FromMinor(price, s.decimals),
		At:           at,
	})
}

// PlaceBid handles POST /api/v1/auctions/{batchID}/bids
// The price is computed by the engine; the request only names the amount.
func (s *Service) PlaceBid(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchParam(w, r)
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bid, err := s.engine.PlaceBid(r.Context(), batchID, req.Bidder, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PlaceBidResponse{
		Bid:          bid,
		PriceCharged: units.FromMinor(bid.PricePerToken, s.decimals),
		TotalCost:    units.FromMinor(bid.TotalCost, s.decimals),
	})
}

// ListAuctionBids handles GET /api/v1/auctions/{batchID}/bids
func (s *Service) ListAuctionBids(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchParam(w, r)
	if !ok {
		return
	}
	bids, err := s.engine.BidsForAuction(r.Context(), batchID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// FinalizeAuction handles POST /api/v1/auctions/{batchID}/finalize
func (s *Service) FinalizeAuction(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchParam(w, r)
	if !ok {
		return
	}
	clearing, err := s.engine.Finalize(r.Context(), batchID, r.Header.Get(AuthorityHeader))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{
		BatchID:              batchID,
		ClearingPrice:        clearing,
		ClearingPriceDisplay: units.FromMinor(clearing, s.decimals),
	})
}

// CancelAuction handles POST /api/v1/auctions/{batchID}/cancel
func (s *Service) CancelAuction(w http.ResponseWriter, r *http.Request) {
	batchID, ok := batchParam(w, r)
	if !ok {
		return
	}
	if err := s.engine.Cancel(r.Context(), batchID, r.Header.Get(AuthorityHeader)); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBid handles GET /api/v1/bids/{bidID}
func (s *Service) GetBid(w http.ResponseWriter, r *http.Request) {
	bid, err := s.engine.Bid(r.Context(), chi.URLParam(r, "bidID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

// ClaimBid handles POST /api/v1/bids/{bidID}/claim
func (s *Service) ClaimBid(w http.ResponseWriter, r *http.Request) {
	bidID := chi.URLParam(r, "bidID")
	refund, err := s.engine.Claim(r.Context(), bidID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		BidID:         bidID,
		Refund:        refund,
		RefundDisplay: units.FromMinor(refund, s.decimals),
	})
}

// ListBidderBids handles GET /api/v1/bidders/{bidder}/bids
func (s *Service) ListBidderBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.engine.BidsForBidder(r.Context(), chi.URLParam(r, "bidder"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

// batchParam parses the {batchID} URL parameter, writing a 400 on failure.
func batchParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "batchID")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		writeError(w, "invalid batch id: "+raw, http.StatusBadRequest)
		return 0, false
	}
	return uint32(id), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}
