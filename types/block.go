package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SystemTx is a normalized asset-transfer transaction extracted from an EVM
// block. Normalization hides whether the underlying transaction is a
// native-value transfer or an ERC-20 contract call; matching consumes only
// these fields.
type SystemTx struct {
	InternalHash    common.Hash
	ExplorerHash    common.Hash
	From            common.Address
	AssetRecipient  common.Address
	Amount          *big.Int        // smallest unit
	ContractAddress *common.Address // nil for the native asset
}

// AnchorTx converts the transaction into its durable anchor representation
// for the given block.
func (tx *SystemTx) AnchorTx(block *BlockData) *AnchorTx {
	return &AnchorTx{
		InternalHash:       tx.InternalHash,
		ExplorerHash:       tx.ExplorerHash,
		BlockNumber:        block.Number,
		BlockHash:          block.Hash,
		BlockTime:          block.Time,
		From:               tx.From,
		AssetRecipient:     tx.AssetRecipient,
		AmountSmallestUnit: tx.Amount.String(),
		ContractAddress:    tx.ContractAddress,
	}
}

// BlockData is a fetched EVM block reduced to the fields the correlation
// engine consumes.
type BlockData struct {
	Number    uint64
	Hash      common.Hash
	Time      uint64 // ms
	SystemTxs []*SystemTx
}
