package kv

// The schema defines how correlation data is laid out across BoltDB buckets.
// Entity buckets are keyed by the entity's unique hash, so duplicate
// detection is structural: a batch insert checks key presence inside the same
// write transaction instead of doing application-level read-then-write.
// Index buckets prefix their keys with big-endian timestamps (and, for the
// match index, the full match tuple) so cursor Seek/Prev scans answer range
// queries in either direction without loading entity values.
var (
	// transfersBucket holds coreHash -> encoded Transfer.
	transfersBucket = []byte("transfers")
	// transferPendingIndexBucket holds coreTime ++ coreHash -> coreHash for
	// every transfer still pending. Membership in this bucket is the source
	// of truth for oldest-first pending scans and for the pending count.
	transferPendingIndexBucket = []byte("transfer-pending-index")

	// anchorsBucket holds internalHash -> encoded AnchorTx.
	anchorsBucket = []byte("anchor-txs")
	// anchorTimeIndexBucket holds blockTime ++ internalHash -> blockNumber
	// for bracketing lookups around a target timestamp.
	anchorTimeIndexBucket = []byte("anchor-time-index")
	// anchorMatchIndexBucket holds
	// from ++ assetRecipient ++ amount(32) ++ blockTime ++ internalHash ->
	// internalHash so the earliest anchor matching a transfer's tuple inside
	// a time window is a single prefix seek.
	anchorMatchIndexBucket = []byte("anchor-match-index")

	// addressesBucket holds address -> encoded WatchedAddress.
	addressesBucket = []byte("watched-addresses")
)
