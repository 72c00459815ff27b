package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinauctions_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	BidsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coinauctions_bids_accepted_total",
			Help: "Total accepted bids",
		},
	)

	BidsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinauctions_bids_rejected_total",
			Help: "Total rejected bids by reason",
		},
		[]string{"reason"},
	)

	BidLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coinauctions_bid_lock_wait_seconds",
			Help:    "Time spent waiting for the per-auction lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinauctions_sweep_transitions_total",
			Help: "Auctions advanced by the lifecycle sweep, by target status",
		},
		[]string{"to"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coinauctions_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox event",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coinauctions_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
