package obs

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Метрики аукционного ядра: создания, ставки, расчёты и переводы средств.
var (
	auctionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auctions_created_total",
		Help: "Total number of auctions created.",
	})

	bidsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Total number of bid attempts by result.",
		},
		[]string{"result"},
	)

	settlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auction_settlements_total",
			Help: "Total number of terminal auction transitions by outcome.",
		},
		[]string{"outcome"},
	)

	transferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_transfer_duration_seconds",
			Help:    "Fund transfer latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)
)

var initOnce sync.Once

// Init registers the core metrics in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(auctionsCreated, bidsTotal, settlementsTotal, transferDuration)
	})
}

// CountAuctionCreated records a successful auction creation.
func CountAuctionCreated() { auctionsCreated.Inc() }

// CountBid records a bid attempt. result is "accepted" or the rejection kind.
func CountBid(result string) { bidsTotal.WithLabelValues(result).Inc() }

// CountSettlement records a terminal transition: "finalized", "finalized_unsold"
// or "cancelled".
func CountSettlement(outcome string) { settlementsTotal.WithLabelValues(outcome).Inc() }

// ObserveTransfer records one ledger transfer with its outcome.
func ObserveTransfer(op, result string, d time.Duration) {
	transferDuration.WithLabelValues(op, result).Observe(d.Seconds())
}
