package finder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_finder_cache_hits_total",
		Help: "Number of searches resolved from the anchor cache without fetching blocks.",
	})
	anchorsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coredrain_finder_anchors_stored_total",
		Help: "Number of anchor transactions persisted from fetched blocks.",
	})
	searchRounds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coredrain_finder_search_rounds",
		Help:    "Interpolation rounds needed to resolve a search that fetched blocks.",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 20},
	})
	searchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coredrain_finder_search_seconds",
		Help:    "Wall-clock duration of finder searches.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
