package corechain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coredrain_indexer_active_workers",
		Help: "Ledger indexer workers currently running, one per active watched address.",
	})
	transfersIndexedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_indexer_transfers_total",
		Help: "Bridge transfers newly persisted from the CORE ledger.",
	})
	ledgerPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_indexer_ledger_pages_total",
		Help: "Ledger history pages fetched across all watched addresses.",
	})
	indexerErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_indexer_errors_total",
		Help: "Indexing cycles that failed for reasons other than rate limiting.",
	})
)
