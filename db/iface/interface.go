// Package iface exists to prevent circular dependencies when implementing the
// database interface.
package iface

import (
	"context"
	"io"
	"math/big"

	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
)

// ReadOnlyDatabase defines a struct which only has read access to database methods.
type ReadOnlyDatabase interface {
	// Transfers.
	Transfer(ctx context.Context, coreHash common.Hash) (*types.Transfer, error)
	PendingTransfers(ctx context.Context, limit int) ([]*types.Transfer, error)
	PendingTransferCount(ctx context.Context) (int, error)
	// Anchor transactions.
	AnchorTx(ctx context.Context, internalHash common.Hash) (*types.AnchorTx, error)
	BracketingAnchors(ctx context.Context, targetTime uint64) (before, after *types.AnchorRef, err error)
	MatchingAnchor(ctx context.Context, from, recipient common.Address, amount *big.Int, minTime, maxTime uint64) (*types.AnchorTx, error)
	// Watched addresses.
	WatchedAddress(ctx context.Context, addr common.Address) (*types.WatchedAddress, error)
	WatchedAddresses(ctx context.Context) ([]*types.WatchedAddress, error)
}

// Database defines the full coredrain database, with read and write access.
type Database interface {
	io.Closer
	ReadOnlyDatabase

	// Transfers.
	InsertTransfers(ctx context.Context, transfers []*types.Transfer) (inserted, duplicates int, err error)
	MarkTransferMatched(ctx context.Context, coreHash common.Hash, evm *types.EVMMatch) error
	MarkTransferFailed(ctx context.Context, coreHash common.Hash, reason string) error
	// Anchor transactions.
	InsertAnchorTxs(ctx context.Context, anchors []*types.AnchorTx) (inserted int, err error)
	// Watched addresses.
	SaveWatchedAddress(ctx context.Context, wa *types.WatchedAddress) error
	UpdateAddressCursor(ctx context.Context, addr common.Address, lastIndexedTime uint64) error
	SetAddressActive(ctx context.Context, addr common.Address, active bool) error

	DatabasePath() string
	ClearDB() error
}
