package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AnchorTx is a system transaction observed in an EVM block. It serves dual
// duty: as a correlation-cache entry matched by the (From, AssetRecipient,
// AmountSmallestUnit) tuple, and as a timestamp anchor for block estimation.
// InternalHash is the identity. Anchors are never mutated after insert.
type AnchorTx struct {
	InternalHash       common.Hash
	ExplorerHash       common.Hash
	BlockNumber        uint64
	BlockHash          common.Hash
	BlockTime          uint64          // ms
	From               common.Address
	AssetRecipient     common.Address
	AmountSmallestUnit string          // decimal string of an arbitrary-width integer
	ContractAddress    *common.Address // nil for the native asset
}

// Amount parses AmountSmallestUnit. Returns false when the stored string is
// not a valid base-10 integer.
func (a *AnchorTx) Amount() (*big.Int, bool) {
	return new(big.Int).SetString(a.AmountSmallestUnit, 10)
}

// AnchorRef is the projection of an anchor used by bracketing lookups.
type AnchorRef struct {
	BlockNumber uint64
	BlockTime   uint64 // ms
}
