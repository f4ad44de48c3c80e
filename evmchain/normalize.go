package evmchain

import (
	"bytes"
	"math/big"

	"github.com/d4mr/coredrain/assets"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const transferCallDataLen = 4 + 32 + 32

var (
	// erc20TransferSelector is the 4-byte id of transfer(address,uint256).
	erc20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	// erc20TransferTopic is the id of Transfer(address,address,uint256).
	erc20TransferTopic = common.BytesToHash(crypto.Keccak256([]byte("Transfer(address,address,uint256)")))
)

// normalizeSystemTx reduces a raw system transaction to the fields matching
// consumes. Returns nil for transactions that are not asset transfers:
// zero-value native sends, unrecognized calldata, and token calls without a
// Transfer log.
func normalizeSystemTx(raw *rawTx, chainID uint64) *types.SystemTx {
	if raw.To == nil {
		return nil
	}
	if len(raw.Input) == 0 {
		if raw.Value == nil || raw.Value.Sign() <= 0 {
			return nil
		}
		internal, explorer := systemTxHashes(raw, chainID)
		return &types.SystemTx{
			InternalHash:   internal,
			ExplorerHash:   explorer,
			From:           assets.NativeSystemAddress,
			AssetRecipient: *raw.To,
			Amount:         new(big.Int).Set(raw.Value),
		}
	}
	if len(raw.Input) != transferCallDataLen || !bytes.Equal(raw.Input[:4], erc20TransferSelector) {
		return nil
	}
	sender, ok := transferLogSender(raw)
	if !ok {
		return nil
	}
	internal, explorer := systemTxHashes(raw, chainID)
	contract := *raw.To
	return &types.SystemTx{
		InternalHash:    internal,
		ExplorerHash:    explorer,
		From:            sender,
		AssetRecipient:  common.BytesToAddress(raw.Input[16:36]),
		Amount:          new(big.Int).SetBytes(raw.Input[36:68]),
		ContractAddress: &contract,
	}
}

// transferLogSender pulls the token-level sender from the contract's own
// Transfer event. Topic layout is [eventID, from, to] with addresses
// left-padded to 32 bytes.
func transferLogSender(raw *rawTx) (common.Address, bool) {
	for _, lg := range raw.Logs {
		if lg.Address != *raw.To || len(lg.Topics) < 2 || lg.Topics[0] != erc20TransferTopic {
			continue
		}
		return common.BytesToAddress(lg.Topics[1][12:]), true
	}
	return common.Address{}, false
}

// extractSystemTxs normalizes a block's raw system transactions, dropping
// the ones that are not asset transfers.
func extractSystemTxs(raws []*rawTx, chainID uint64) []*types.SystemTx {
	var txs []*types.SystemTx
	for _, raw := range raws {
		if tx := normalizeSystemTx(raw, chainID); tx != nil {
			txs = append(txs, tx)
		}
	}
	if len(txs) > 0 {
		systemTxsExtracted.Add(float64(len(txs)))
	}
	return txs
}
