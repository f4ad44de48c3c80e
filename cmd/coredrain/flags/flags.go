// Package flags contains all configuration runtime flags for
// the coredrain correlation engine.
package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

var (
	// VerbosityFlag defines the logrus configuration.
	VerbosityFlag = &cli.StringFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity (trace, debug, info=default, warn, error, fatal, panic)",
		Value: "info",
	}
	// DataDirFlag defines a path on disk where the bolt database lives.
	DataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the transfer and anchor databases",
		Value: DefaultDataDir(),
	}
	// ForceClearDB removes any previously stored data at the data directory.
	ForceClearDB = &cli.BoolFlag{
		Name:  "force-clear-db",
		Usage: "Clear any previously stored data at the data directory",
	}
	// LogFormat specifies the log output format.
	LogFormat = &cli.StringFlag{
		Name:  "log-format",
		Usage: "Specify log formatting. Supports: text, json, fluentd, journald.",
		Value: "text",
	}
	// LogFileName specifies the log output file name.
	LogFileName = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Specify log file name, relative or absolute",
	}

	// CoreAPIEndpointFlag defines the HTTP endpoint of the CORE ledger API.
	CoreAPIEndpointFlag = &cli.StringFlag{
		Name:  "core-api-endpoint",
		Usage: "HTTP endpoint of the CORE ledger info API",
		Value: "https://api.hyperliquid.xyz",
	}
	// EVMRPCEndpointFlag defines the JSON-RPC endpoint of the EVM chain.
	EVMRPCEndpointFlag = &cli.StringFlag{
		Name:  "evm-rpc-endpoint",
		Usage: "JSON-RPC endpoint of the EVM chain serving system transactions",
		Value: "https://rpc.hyperliquid.xyz/evm",
	}
	// ChainIDFlag defines the EVM chain id folded into the canonical tx hashes.
	ChainIDFlag = &cli.Uint64Flag{
		Name:  "chain-id",
		Usage: "EVM chain id used to derive system transaction hashes",
		Value: 999,
	}

	// WatchedAddressFlag lists a CORE address whose outbound bridge transfers
	// are indexed. May be used multiple times.
	WatchedAddressFlag = &cli.StringSliceFlag{
		Name:  "watched-address",
		Usage: "CORE address to index bridge transfers for. This flag may be used multiple times.",
	}
	// WatchedAddressesFileFlag points at a YAML list of watched addresses that
	// is reloaded on change.
	WatchedAddressesFileFlag = &cli.StringFlag{
		Name:  "watched-addresses-file",
		Usage: "YAML file with a list of CORE addresses to watch. Edits are picked up without a restart.",
	}

	// ObjectStoreBucketFlag names the requester-pays bucket holding archived
	// EVM blocks. Leaving it empty disables the object store fetcher.
	ObjectStoreBucketFlag = &cli.StringFlag{
		Name:  "object-store-bucket",
		Usage: "Requester-pays bucket with archived EVM block records. Empty disables backfill via the object store.",
	}
	// ObjectStoreRegionFlag defines the region of the block archive bucket.
	ObjectStoreRegionFlag = &cli.StringFlag{
		Name:  "object-store-region",
		Usage: "Region of the block archive bucket",
		Value: "us-east-1",
	}
	// ObjectStoreEndpointFlag overrides the object store endpoint, for
	// S3-compatible stores and tests.
	ObjectStoreEndpointFlag = &cli.StringFlag{
		Name:  "object-store-endpoint",
		Usage: "Custom endpoint for the block archive, e.g. an S3-compatible store",
	}
	// ObjectStoreExtFlag overrides the suffix of archived block objects.
	ObjectStoreExtFlag = &cli.StringFlag{
		Name:  "object-store-ext",
		Usage: "Suffix of archived block objects",
		Value: ".rmp.lz4",
	}

	// MonitoringHostFlag defines the host used to serve prometheus metrics.
	MonitoringHostFlag = &cli.StringFlag{
		Name:  "monitoring-host",
		Usage: "Host used for listening and responding metrics for prometheus.",
		Value: "127.0.0.1",
	}
	// MonitoringPortFlag defines the http port used to serve prometheus metrics.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listening and respond metrics for prometheus.",
		Value: 8080,
	}
	// DisableMonitoringFlag defines a flag to disable the metrics collection.
	DisableMonitoringFlag = &cli.BoolFlag{
		Name:  "disable-monitoring",
		Usage: "Disable monitoring service.",
	}

	// EnableTracingFlag defines a flag to enable tracing.
	EnableTracingFlag = &cli.BoolFlag{
		Name:  "enable-tracing",
		Usage: "Enable request tracing.",
	}
	// TracingProcessNameFlag defines a flag to specify a process name.
	TracingProcessNameFlag = &cli.StringFlag{
		Name:  "tracing-process-name",
		Usage: "The name to apply to tracing tag \"process_name\"",
	}
	// TracingEndpointFlag flag defines the http endpoint for serving traces to Jaeger.
	TracingEndpointFlag = &cli.StringFlag{
		Name:  "tracing-endpoint",
		Usage: "Tracing endpoint defines where coredrain traces are exposed to Jaeger.",
		Value: "http://127.0.0.1:14268/api/traces",
	}
	// TraceSampleFractionFlag defines a flag to indicate what fraction of
	// operations are sampled for tracing.
	TraceSampleFractionFlag = &cli.Float64Flag{
		Name:  "trace-sample-fraction",
		Usage: "Indicate what fraction of operations are sampled for tracing.",
		Value: 0.20,
	}

	// CoreIndexerPollFlag defines how often a caught-up ledger indexer asks
	// for new updates.
	CoreIndexerPollFlag = &cli.DurationFlag{
		Name:  "core-indexer-poll",
		Usage: "Interval between ledger polls once an indexer has caught up",
		Value: 30 * time.Second,
	}
	// MatcherBatchSizeFlag defines how many pending transfers a single refill
	// pulls from the database.
	MatcherBatchSizeFlag = &cli.IntFlag{
		Name:  "matcher-batch-size",
		Usage: "Number of pending transfers loaded per matcher refill",
		Value: 256,
	}
	// MatcherConcurrencyFlag defines the matcher worker pool size.
	MatcherConcurrencyFlag = &cli.IntFlag{
		Name:  "matcher-concurrency",
		Usage: "Number of concurrent transfer matching workers",
		Value: 256,
	}
	// MatcherQueueSizeFlag defines the capacity of the pending transfer queue.
	MatcherQueueSizeFlag = &cli.IntFlag{
		Name:  "matcher-queue-size",
		Usage: "Capacity of the in-memory queue feeding the matcher workers",
		Value: 2048,
	}
	// MatcherLowWatermarkFlag defines the queue length below which a refill
	// loads more pending transfers.
	MatcherLowWatermarkFlag = &cli.IntFlag{
		Name:  "matcher-low-watermark",
		Usage: "Queue length below which the matcher refills from the database",
		Value: 100,
	}
	// RPCMaxBatchFlag defines the operation cap of a single JSON-RPC batch.
	RPCMaxBatchFlag = &cli.IntFlag{
		Name:  "rpc-max-batch",
		Usage: "Maximum operations per JSON-RPC batch request",
		Value: 20,
	}
	// BackfillThresholdFlag defines the pending backlog at which the matcher
	// switches block reads from the RPC node to the object store.
	BackfillThresholdFlag = &cli.IntFlag{
		Name:  "backfill-threshold",
		Usage: "Pending transfer count above which blocks are read from the object store instead of the RPC node",
		Value: 10,
	}
)
