package matcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pendingTransfers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coredrain_matcher_pending_transfers",
		Help: "Pending transfers awaiting correlation, sampled at each refill.",
	})
	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coredrain_matcher_queue_length",
		Help: "Transfers sitting in the in-memory work queue.",
	})
	backfillActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coredrain_matcher_backfill_active",
		Help: "1 while the object-store provider is active, 0 on RPC.",
	})
	transfersMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_matcher_transfers_matched_total",
		Help: "Transfers resolved to their EVM transaction.",
	})
	transfersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_matcher_transfers_failed_total",
		Help: "Transfers concluded to have no EVM counterpart.",
	})
	matchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_matcher_match_errors_total",
		Help: "Match attempts abandoned on transient errors, transfer left pending.",
	})
)
