package evmchain

import (
	"math/big"
	"testing"

	"github.com/d4mr/coredrain/testing/assert"
)

func hashFixture() *rawTx {
	to := addr(0x10)
	return &rawTx{
		From:     addr(0x20),
		To:       &to,
		Nonce:    7,
		GasPrice: big.NewInt(0),
		Gas:      21000,
		Value:    big.NewInt(500000000000000000),
	}
}

func TestSystemTxHashes_Deterministic(t *testing.T) {
	internal1, explorer1 := systemTxHashes(hashFixture(), testChainID)
	internal2, explorer2 := systemTxHashes(hashFixture(), testChainID)
	assert.Equal(t, internal1, internal2)
	assert.Equal(t, explorer1, explorer2)
	assert.NotEqual(t, internal1, explorer1, "The two identifier variants must differ")
}

func TestSystemTxHashes_SenderOnlyAffectsExplorerHash(t *testing.T) {
	internal1, explorer1 := systemTxHashes(hashFixture(), testChainID)
	other := hashFixture()
	other.From = addr(0x21)
	internal2, explorer2 := systemTxHashes(other, testChainID)
	assert.Equal(t, internal1, internal2, "The internal encoding zeroes the signature slots")
	assert.NotEqual(t, explorer1, explorer2, "The explorer encoding packs the sender into s")
}

func TestSystemTxHashes_SensitiveToTxFields(t *testing.T) {
	internal1, explorer1 := systemTxHashes(hashFixture(), testChainID)

	bumpedNonce := hashFixture()
	bumpedNonce.Nonce++
	internal2, explorer2 := systemTxHashes(bumpedNonce, testChainID)
	assert.NotEqual(t, internal1, internal2)
	assert.NotEqual(t, explorer1, explorer2)

	internal3, explorer3 := systemTxHashes(hashFixture(), testChainID+1)
	assert.NotEqual(t, internal1, internal3)
	assert.NotEqual(t, explorer1, explorer3)
}

func TestSystemTxHashes_NilAmountsAreZero(t *testing.T) {
	sparse := hashFixture()
	sparse.GasPrice = nil
	zeroed := hashFixture()
	zeroed.GasPrice = big.NewInt(0)
	internal1, _ := systemTxHashes(sparse, testChainID)
	internal2, _ := systemTxHashes(zeroed, testChainID)
	assert.Equal(t, internal1, internal2)
}
