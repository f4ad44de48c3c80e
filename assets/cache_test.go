package assets

import (
	"context"
	"sync"
	"testing"

	"github.com/d4mr/coredrain/api/client/core"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/testing/assert"
	"github.com/d4mr/coredrain/testing/require"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	meta  *core.SpotMeta
	err   error
}

func (f *fakeProvider) SpotMeta(_ context.Context) (*core.SpotMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testMeta() *core.SpotMeta {
	return &core.SpotMeta{
		Tokens: []core.Token{
			{Name: "USDC", Index: 0, WeiDecimals: 8},
			{Name: "HYPE", Index: 150, WeiDecimals: 8},
			{
				Name:        "UETH",
				Index:       221,
				WeiDecimals: 9,
				EvmContract: &core.EvmContract{
					Address:          common.HexToAddress("0xbe6727b535d85d30fab38b5b1a6ca0d4e7f4977c"),
					ExtraWeiDecimals: 9,
				},
			},
		},
	}
}

func TestSystemAddressForIndex(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "0x2000000000000000000000000000000000000000"},
		{5, "0x2000000000000000000000000000000000000005"},
		{222, "0x20000000000000000000000000000000000000de"},
		{268, "0x200000000000000000000000000000000000010c"},
		{4095, "0x2000000000000000000000000000000000000fff"},
	}
	for _, tt := range tests {
		got, err := SystemAddressForIndex(tt.index)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(tt.want), got, "index %d", tt.index)
	}

	_, err := SystemAddressForIndex(4096)
	require.NotNil(t, err)
	_, err = SystemAddressForIndex(-1)
	require.NotNil(t, err)
}

func TestIsSystemAddress(t *testing.T) {
	assert.Equal(t, true, IsSystemAddress(NativeSystemAddress))
	assert.Equal(t, true, IsSystemAddress(common.HexToAddress("0x2000000000000000000000000000000000000000")))
	assert.Equal(t, true, IsSystemAddress(common.HexToAddress("0x20000000000000000000000000000000000000de")))
	assert.Equal(t, false, IsSystemAddress(common.HexToAddress("0x2000000000000000000000000000000000001000")), "A fourth index digit breaks the prefix")
	assert.Equal(t, false, IsSystemAddress(common.HexToAddress("0xc47a9fdd6b3941b6c45a4022f83c69976c7e7a4c")))
	assert.Equal(t, false, IsSystemAddress(common.Address{}))
}

func TestCache_Populate(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	provider := &fakeProvider{meta: testMeta()}
	cache := NewCache(provider)

	// Empty until populated.
	_, ok := cache.ByName("UETH")
	assert.Equal(t, false, ok)

	require.NoError(t, cache.Populate(context.Background()))

	ueth, ok := cache.ByName("UETH")
	require.Equal(t, true, ok)
	assert.Equal(t, 18, ueth.EvmDecimals, "EVM decimals add the contract's extra wei decimals")
	assert.Equal(t, common.HexToAddress("0x20000000000000000000000000000000000000dd"), ueth.SystemAddress)
	require.NotNil(t, ueth.Contract)

	usdc, ok := cache.ByIndex(0)
	require.Equal(t, true, ok)
	assert.Equal(t, "USDC", usdc.Name)
	assert.Equal(t, 8, usdc.EvmDecimals, "No contract means plain wei decimals")
	assert.Equal(t, common.HexToAddress("0x2000000000000000000000000000000000000000"), usdc.SystemAddress)

	bySys, ok := cache.BySystemAddress(ueth.SystemAddress)
	require.Equal(t, true, ok)
	assert.Equal(t, "UETH", bySys.Name)
}

func TestCache_NativeDecimalsPinned(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	provider := &fakeProvider{meta: testMeta()}
	cache := NewCache(provider)
	require.NoError(t, cache.Populate(context.Background()))

	native, ok := cache.ByName("HYPE")
	require.Equal(t, true, ok)
	assert.Equal(t, true, native.IsNative)
	assert.Equal(t, 18, native.EvmDecimals, "Upstream reports 8, the gas asset is still 18")
	assert.Equal(t, NativeSystemAddress, native.SystemAddress)

	byAddr, ok := cache.BySystemAddress(NativeSystemAddress)
	require.Equal(t, true, ok)
	assert.Equal(t, "HYPE", byAddr.Name)
}

func TestDecimalsForSystemAddress_UnknownRefreshesOnce(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	provider := &fakeProvider{meta: testMeta()}
	cache := NewCache(provider)
	require.NoError(t, cache.Populate(context.Background()))
	require.Equal(t, 1, provider.callCount())

	// A token listed after the initial populate.
	newAddr := common.HexToAddress("0x2000000000000000000000000000000000000ccc")
	provider.mu.Lock()
	provider.meta = &core.SpotMeta{Tokens: append(testMeta().Tokens, core.Token{
		Name:        "LATE",
		Index:       0xccc,
		WeiDecimals: 6,
	})}
	provider.mu.Unlock()

	assert.Equal(t, 6, cache.DecimalsForSystemAddress(context.Background(), newAddr))
	assert.Equal(t, 2, provider.callCount(), "Unknown address costs exactly one refresh")

	// Known addresses never refresh.
	ueth, _ := cache.ByName("UETH")
	assert.Equal(t, 18, cache.DecimalsForSystemAddress(context.Background(), ueth.SystemAddress))
	assert.Equal(t, 2, provider.callCount())
}

func TestDecimalsForSystemAddress_StillUnknownFallsBack(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	provider := &fakeProvider{meta: testMeta()}
	cache := NewCache(provider)
	require.NoError(t, cache.Populate(context.Background()))

	unknown := common.HexToAddress("0x2000000000000000000000000000000000000fee")
	assert.Equal(t, params.BridgeConfig().DefaultTokenDecimals, cache.DecimalsForSystemAddress(context.Background(), unknown))
	assert.Equal(t, 2, provider.callCount())
}

func TestDecimalsForSystemAddress_RefreshFailureFallsBack(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	provider := &fakeProvider{meta: testMeta()}
	cache := NewCache(provider)
	require.NoError(t, cache.Populate(context.Background()))

	provider.mu.Lock()
	provider.err = errors.New("upstream down")
	provider.mu.Unlock()

	unknown := common.HexToAddress("0x2000000000000000000000000000000000000fee")
	assert.Equal(t, 18, cache.DecimalsForSystemAddress(context.Background(), unknown))

	// The stale snapshot survives a failed refresh.
	_, ok := cache.ByName("UETH")
	assert.Equal(t, true, ok)
}
