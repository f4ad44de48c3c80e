package evmchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// systemTxHashes computes the two bridge identifiers of a system
// transaction. System transactions carry no real signature, so the chain
// defines canonical fillings of the legacy signature slots: the node hashes
// the transaction with (v, r, s) = (chainId*2+35, 0, 0), while the explorer
// hashes it with (chainId*2+36, 1, <sender address as integer>). Both must
// be byte-exact Keccak-256 over the legacy RLP encoding.
func systemTxHashes(raw *rawTx, chainID uint64) (internal common.Hash, explorer common.Hash) {
	internal = gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    raw.Nonce,
		GasPrice: raw.GasPrice,
		Gas:      raw.Gas,
		To:       raw.To,
		Value:    raw.Value,
		Data:     raw.Input,
		V:        new(big.Int).SetUint64(chainID*2 + 35),
		R:        new(big.Int),
		S:        new(big.Int),
	}).Hash()
	explorer = gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    raw.Nonce,
		GasPrice: raw.GasPrice,
		Gas:      raw.Gas,
		To:       raw.To,
		Value:    raw.Value,
		Data:     raw.Input,
		V:        new(big.Int).SetUint64(chainID*2 + 36),
		R:        big.NewInt(1),
		S:        new(big.Int).SetBytes(raw.From.Bytes()),
	}).Hash()
	return internal, explorer
}
