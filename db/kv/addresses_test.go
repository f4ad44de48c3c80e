package kv

import (
	"context"
	"testing"

	"github.com/d4mr/coredrain/testing/assert"
	"github.com/d4mr/coredrain/testing/require"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
)

func TestSaveWatchedAddress_PreservesCursor(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	addr := common.HexToAddress("0xc47a9fdd6b3941b6c45a4022f83c69976c7e7a4c")
	require.NoError(t, db.SaveWatchedAddress(ctx, &types.WatchedAddress{Address: addr, IsActive: true}))
	require.NoError(t, db.UpdateAddressCursor(ctx, addr, 5000))

	// Config re-declares the address; the cursor must survive.
	require.NoError(t, db.SaveWatchedAddress(ctx, &types.WatchedAddress{Address: addr, IsActive: true}))
	watched, err := db.WatchedAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), watched.LastIndexedTime)
	assert.Equal(t, true, watched.IsActive)
}

func TestUpdateAddressCursor_Monotone(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	addr := common.HexToAddress("0x01")
	require.NoError(t, db.SaveWatchedAddress(ctx, &types.WatchedAddress{Address: addr, IsActive: true}))

	require.NoError(t, db.UpdateAddressCursor(ctx, addr, 300))
	require.NoError(t, db.UpdateAddressCursor(ctx, addr, 200), "A stale update is ignored, not an error")
	require.NoError(t, db.UpdateAddressCursor(ctx, addr, 300))

	watched, err := db.WatchedAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), watched.LastIndexedTime)

	err = db.UpdateAddressCursor(ctx, common.HexToAddress("0x02"), 100)
	require.ErrorContains(t, "not found in db", err)
}

func TestSetAddressActive(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	addr := common.HexToAddress("0x03")
	require.NoError(t, db.SaveWatchedAddress(ctx, &types.WatchedAddress{Address: addr, IsActive: true}))
	require.NoError(t, db.SetAddressActive(ctx, addr, false))

	watched, err := db.WatchedAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, false, watched.IsActive)

	err = db.SetAddressActive(ctx, common.HexToAddress("0x04"), true)
	require.ErrorContains(t, "not found in db", err)
}

func TestWatchedAddresses_All(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	watched, err := db.WatchedAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, len(watched))

	addrs := []common.Address{
		common.HexToAddress("0x0b"),
		common.HexToAddress("0x0a"),
		common.HexToAddress("0x0c"),
	}
	for _, a := range addrs {
		require.NoError(t, db.SaveWatchedAddress(ctx, &types.WatchedAddress{Address: a, IsActive: true}))
	}
	require.NoError(t, db.SetAddressActive(ctx, addrs[2], false))

	watched, err = db.WatchedAddresses(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, len(watched))
	assert.Equal(t, common.HexToAddress("0x0a"), watched[0].Address, "Addresses are ordered by key bytes")
	assert.Equal(t, common.HexToAddress("0x0b"), watched[1].Address)
	assert.Equal(t, false, watched[2].IsActive, "Deactivated addresses stay listed")
}

func TestWatchedAddress_UnknownIsNil(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	watched, err := db.WatchedAddress(ctx, common.HexToAddress("0x05"))
	require.NoError(t, err)
	assert.Equal(t, (*types.WatchedAddress)(nil), watched)
}
