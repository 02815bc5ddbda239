package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atmx/auction-engine/internal/auction"
	"github.com/atmx/auction-engine/internal/ledger"
	"github.com/atmx/auction-engine/internal/settlement"
	"github.com/atmx/auction-engine/internal/store"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, auction.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, auction.ErrInvalidPricing),
		errors.Is(err, auction.ErrInvalidDuration),
		errors.Is(err, auction.ErrInvalidSupply),
		errors.Is(err, auction.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidBidder):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrMathOverflow):
		return http.StatusUnprocessableEntity
	case settlement.IsRejection(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError writes err with its mapped status. Internal errors are
// logged and hidden from the client.
func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
