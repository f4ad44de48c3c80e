package evmchain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coredrain_evm_blocks_fetched_total",
		Help: "Blocks fetched from the EVM chain, by provider.",
	}, []string{"provider"})
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coredrain_evm_fetch_retries_total",
		Help: "Transient block-fetch failures that were retried, by provider.",
	}, []string{"provider"})
	systemTxsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_evm_system_txs_extracted_total",
		Help: "System transactions normalized into asset transfers.",
	})
)
