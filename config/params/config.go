// Package params defines the process-wide configuration of the coredrain
// correlation engine: search tunables, matcher pool sizing, indexer cadence,
// fetcher limits, and the chain constants the bridge identifiers depend on.
package params

import "time"

// BridgeChainConfig contains the tunables and constants of the correlation
// engine.
type BridgeChainConfig struct {
	// Chain constants.
	ChainID              uint64 // EVM chain id, part of the canonical tx hashes
	SeedBlockNumber      uint64 // lower search bound when no anchor exists yet
	SeedBlockTime        uint64 // ms timestamp assumed for the seed block
	DefaultBlockRate     uint64 // blocks per second assumed when no upper anchor exists
	NativeTokenName      string // ledger name of the chain's gas asset
	NativeDecimals       int    // native asset decimals, fixed regardless of upstream metadata
	DefaultTokenDecimals int    // fallback when a system address stays unknown after a refresh

	// Finder.
	MaxSearchRounds int
	SearchBatchSize uint64
	CacheProbeBack  time.Duration // cache window reach before coreTime
	CacheProbeAhead time.Duration // cache window reach past coreTime

	// Matcher pool.
	QueueSize          int
	LowWatermark       int
	MatcherBatchSize   int
	MatcherConcurrency int
	BackfillThreshold  int
	RefillInterval     time.Duration
	MatchTimeout       time.Duration
	DedupCacheSize     int
	StatsInterval      time.Duration

	// Indexer fleet.
	ReconcileInterval  time.Duration
	CoreIndexerPoll    time.Duration
	CoreRequestTimeout time.Duration
	IndexerMaxAttempts int
	IndexerRetryBase   time.Duration

	// Block fetchers.
	MaxRPCBatch      int
	FetchTimeout     time.Duration
	FetchMaxAttempts int
	FetchRetryBase   time.Duration
	ObjectStoreExt   string // suffix of archived block objects

	// Shared backoff.
	DefaultRetryAfter time.Duration // assumed when a 429 carries no Retry-After
	RetryAfterFactor  float64       // safety margin applied to parsed Retry-After values
	BackoffJitterMax  time.Duration // random addition when waiting out a deadline
}

// MainnetBridgeConfig returns the configuration for the production bridge
// deployment.
func MainnetBridgeConfig() *BridgeChainConfig {
	return &BridgeChainConfig{
		ChainID:              999,
		SeedBlockNumber:      1,
		SeedBlockTime:        1715000000000,
		DefaultBlockRate:     1,
		NativeTokenName:      "HYPE",
		NativeDecimals:       18,
		DefaultTokenDecimals: 18,

		MaxSearchRounds: 20,
		SearchBatchSize: 5,
		CacheProbeBack:  5 * time.Second,
		CacheProbeAhead: 120 * time.Second,

		QueueSize:          2048,
		LowWatermark:       100,
		MatcherBatchSize:   256,
		MatcherConcurrency: 256,
		BackfillThreshold:  10,
		RefillInterval:     time.Second,
		MatchTimeout:       60 * time.Second,
		DedupCacheSize:     10000,
		StatsInterval:      60 * time.Second,

		ReconcileInterval:  30 * time.Second,
		CoreIndexerPoll:    30 * time.Second,
		CoreRequestTimeout: 30 * time.Second,
		IndexerMaxAttempts: 5,
		IndexerRetryBase:   time.Second,

		MaxRPCBatch:      20,
		FetchTimeout:     30 * time.Second,
		FetchMaxAttempts: 3,
		FetchRetryBase:   time.Second,
		ObjectStoreExt:   ".rmp.lz4",

		DefaultRetryAfter: 60 * time.Second,
		RetryAfterFactor:  1.1,
		BackoffJitterMax:  2 * time.Second,
	}
}

var bridgeConfig = MainnetBridgeConfig()

// BridgeConfig retrieves the active bridge configuration.
func BridgeConfig() *BridgeChainConfig {
	return bridgeConfig
}

// OverrideBridgeConfig by replacing the config. The preferred pattern is to
// call BridgeConfig().Copy(), change the specific parameters, and then call
// OverrideBridgeConfig(c). Any subsequent calls to params.BridgeConfig() will
// return this new configuration.
func OverrideBridgeConfig(c *BridgeChainConfig) {
	bridgeConfig = c
}

// Copy returns a copy of the config object.
func (c *BridgeChainConfig) Copy() *BridgeChainConfig {
	config := *c
	return &config
}
