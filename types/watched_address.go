package types

import "github.com/ethereum/go-ethereum/common"

// WatchedAddress configures one indexer worker. LastIndexedTime is the
// per-address high-water-mark cursor in ms; zero means index from the
// beginning of the address's history.
type WatchedAddress struct {
	Address         common.Address
	LastIndexedTime uint64
	IsActive        bool
}
