// Package decay implements the linear price decay of a descending-price
// (Dutch) auction.
//
// Prices are integer minor units of the payment asset. The interpolation
// multiplies before it divides and carries the product in 128 bits, so the
// result is exact up to the final floor division and identical for every
// caller that recomputes it from the same inputs.
package decay

import (
	"errors"
	"math/bits"
	"time"

	"github.com/atmx/auction-engine/internal/model"
)

// ErrOverflow is returned when an intermediate value does not fit the
// arithmetic it is computed in.
var ErrOverflow = errors.New("decay: arithmetic overflow")

// Price returns the unit price at time now for an auction that decays
// linearly from startPrice at startTime to reservePrice at endTime.
//
//	price = startPrice - (startPrice - reservePrice) * elapsed / duration
//
// Times are Unix seconds. Before the window the start price applies, at or
// after its end the reserve price applies. The result never drops below
// reservePrice.
func Price(startPrice, reservePrice uint64, startTime, endTime, now int64) (uint64, error) {
	if now >= endTime {
		return reservePrice, nil
	}
	if now <= startTime {
		return startPrice, nil
	}
	if startPrice < reservePrice {
		return 0, ErrOverflow
	}

	duration := uint64(endTime - startTime)
	elapsed := uint64(now - startTime)
	priceRange := startPrice - reservePrice

	hi, lo := bits.Mul64(priceRange, elapsed)
	if hi >= duration {
		// Quotient would not fit in 64 bits.
		return 0, ErrOverflow
	}
	drop, _ := bits.Div64(hi, lo, duration)

	if drop > startPrice {
		return 0, ErrOverflow
	}
	price := startPrice - drop
	if price < reservePrice {
		return reservePrice, nil
	}
	return price, nil
}

// At returns the price of auction a at the given wall-clock time.
func At(a *model.Auction, now time.Time) (uint64, error) {
	return Price(a.StartPrice, a.ReservePrice, a.StartTime.Unix(), a.EndTime.Unix(), now.Unix())
}
