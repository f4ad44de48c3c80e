package kv

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/d4mr/coredrain/testing/require"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
)

// setupDB instantiates and returns a Store instance.
func setupDB(t testing.TB) *Store {
	db, err := NewKVStore(context.Background(), t.TempDir())
	require.NoError(t, err, "Failed to instantiate DB")
	t.Cleanup(func() {
		require.NoError(t, db.Close(), "Failed to close database")
	})
	return db
}

func testTransfer(seed byte, coreTime uint64) *types.Transfer {
	return &types.Transfer{
		CoreHash:      common.HexToHash(fmt.Sprintf("0x%064x", seed)),
		CoreTime:      coreTime,
		Token:         "UETH",
		Amount:        "0.5",
		Recipient:     common.BytesToAddress([]byte{seed, 1}),
		SystemAddress: common.HexToAddress("0x20000000000000000000000000000000000000de"),
		WatchedSender: common.BytesToAddress([]byte{seed, 2}),
		UsdcValue:     "1250.0",
		Fee:           "0.00005",
		NativeFee:     "0.01",
		Status:        types.StatusPending,
	}
}

func testAnchor(seed byte, blockNumber, blockTime uint64) *types.AnchorTx {
	return &types.AnchorTx{
		InternalHash:       common.HexToHash(fmt.Sprintf("0x%064x", uint64(seed)<<32|blockNumber)),
		ExplorerHash:       common.HexToHash(fmt.Sprintf("0x%064x", uint64(seed)<<32|blockNumber+1)),
		BlockNumber:        blockNumber,
		BlockHash:          common.BytesToHash([]byte{seed, 0xbb}),
		BlockTime:          blockTime,
		From:               common.BytesToAddress([]byte{seed, 3}),
		AssetRecipient:     common.BytesToAddress([]byte{seed, 4}),
		AmountSmallestUnit: "500000000000000000",
	}
}

func mustBig(t testing.TB, s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	require.Equal(t, true, ok, "invalid big integer literal %q", s)
	return v
}
