// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bid requests, partitioned by outcome.
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Total number of bid requests by outcome",
	}, []string{"outcome"})

	// BidLatency tracks bid placement latency, escrow included.
	BidLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_bid_latency_seconds",
		Help:    "Bid placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ClaimsTotal counts claim requests, partitioned by outcome.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_claims_total",
		Help: "Total number of claim requests by outcome",
	}, []string{"outcome"})

	// EscrowVolume tracks payment moved into escrow, in minor units.
	EscrowVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_escrow_volume_total",
		Help: "Cumulative payment escrowed by accepted bids, in minor units",
	})

	// RefundVolume tracks payment returned to bidders at claim, in minor units.
	RefundVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_refund_volume_total",
		Help: "Cumulative overpayment refunded at claim, in minor units",
	})

	// AuctionTransitions counts auctions entering each status.
	AuctionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_transitions_total",
		Help: "Auction lifecycle transitions by target status",
	}, []string{"status"})

	// ActiveAuctions tracks auctions that are neither finalized nor cancelled.
	ActiveAuctions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_open_auctions",
		Help: "Number of auctions not yet finalized or cancelled",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot be hijacked")
	}
	return h.Hijack()
}
