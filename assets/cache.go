// Package assets maintains the process-wide spot token metadata: the mapping
// from ledger token names to EVM decimal scaling and to the system addresses
// their bridge transactions originate from.
package assets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/d4mr/coredrain/api/client/core"
	"github.com/d4mr/coredrain/config/params"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "assets")

// NativeSystemAddress is the fixed sender of native-value system
// transactions, used in place of a derived address for the gas asset.
var NativeSystemAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")

// systemAddressPrefix is shared by all contract-token system addresses; the
// remaining 3 hex digits encode the token index.
const systemAddressPrefix = "0x2000000000000000000000000000000000000"

const maxTokenIndex = 0xfff

// MetadataProvider supplies the spot token universe.
type MetadataProvider interface {
	SpotMeta(ctx context.Context) (*core.SpotMeta, error)
}

// Asset is one resolved token of the spot universe.
type Asset struct {
	Name          string
	Index         int
	EvmDecimals   int
	SystemAddress common.Address
	Contract      *common.Address // nil for the native token and CORE-only tokens
	IsNative      bool
}

type snapshot struct {
	byName          map[string]*Asset
	bySystemAddress map[common.Address]*Asset
	byIndex         map[int]*Asset
}

// Cache resolves assets by name, system address, or index. Readers work
// against an atomically replaced snapshot and never block; Populate builds a
// full snapshot aside and swaps it in, so no partial state is ever visible.
type Cache struct {
	provider MetadataProvider
	snap     atomic.Value // *snapshot

	refreshMu sync.Mutex
}

// NewCache returns a cache backed by the given metadata provider. The cache
// is empty until Populate succeeds once.
func NewCache(provider MetadataProvider) *Cache {
	return &Cache{provider: provider}
}

// SystemAddressForIndex derives the system address of the contract token
// with the given index.
func SystemAddressForIndex(index int) (common.Address, error) {
	if index < 0 || index > maxTokenIndex {
		return common.Address{}, errors.Errorf("token index %d does not fit the 3-digit system address suffix", index)
	}
	return common.HexToAddress(fmt.Sprintf("%s%03x", systemAddressPrefix, index)), nil
}

// IsSystemAddress reports whether addr is the native system address or
// carries the contract-token system address prefix.
func IsSystemAddress(addr common.Address) bool {
	if addr == NativeSystemAddress {
		return true
	}
	return strings.HasPrefix(strings.ToLower(addr.Hex()), systemAddressPrefix)
}

// Populate fetches the token universe and atomically replaces the cache
// contents. The native token's decimals are pinned regardless of what the
// upstream reports for it.
func (c *Cache) Populate(ctx context.Context) error {
	meta, err := c.provider.SpotMeta(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch spot metadata")
	}
	snap := buildSnapshot(meta)
	c.snap.Store(snap)
	log.WithField("tokens", len(snap.byName)).Info("Populated asset metadata cache")
	return nil
}

func buildSnapshot(meta *core.SpotMeta) *snapshot {
	cfg := params.BridgeConfig()
	snap := &snapshot{
		byName:          make(map[string]*Asset, len(meta.Tokens)),
		bySystemAddress: make(map[common.Address]*Asset, len(meta.Tokens)),
		byIndex:         make(map[int]*Asset, len(meta.Tokens)),
	}
	for _, tok := range meta.Tokens {
		asset := &Asset{
			Name:  tok.Name,
			Index: tok.Index,
		}
		if tok.Name == cfg.NativeTokenName {
			asset.IsNative = true
			asset.SystemAddress = NativeSystemAddress
			asset.EvmDecimals = cfg.NativeDecimals
		} else {
			addr, err := SystemAddressForIndex(tok.Index)
			if err != nil {
				log.WithError(err).WithField("token", tok.Name).Warn("Skipping token outside the system address space")
				continue
			}
			asset.SystemAddress = addr
			asset.EvmDecimals = tok.WeiDecimals
			if tok.EvmContract != nil {
				contract := tok.EvmContract.Address
				asset.Contract = &contract
				asset.EvmDecimals = tok.WeiDecimals + tok.EvmContract.ExtraWeiDecimals
			}
		}
		snap.byName[asset.Name] = asset
		snap.bySystemAddress[asset.SystemAddress] = asset
		snap.byIndex[asset.Index] = asset
	}
	return snap
}

func (c *Cache) load() *snapshot {
	snap, _ := c.snap.Load().(*snapshot)
	return snap
}

// ByName returns the asset with the given ledger token name.
func (c *Cache) ByName(name string) (*Asset, bool) {
	snap := c.load()
	if snap == nil {
		return nil, false
	}
	a, ok := snap.byName[name]
	return a, ok
}

// BySystemAddress returns the asset whose bridge transactions originate
// from addr.
func (c *Cache) BySystemAddress(addr common.Address) (*Asset, bool) {
	snap := c.load()
	if snap == nil {
		return nil, false
	}
	a, ok := snap.bySystemAddress[addr]
	return a, ok
}

// ByIndex returns the asset with the given token index.
func (c *Cache) ByIndex(index int) (*Asset, bool) {
	snap := c.load()
	if snap == nil {
		return nil, false
	}
	a, ok := snap.byIndex[index]
	return a, ok
}

// DecimalsForSystemAddress resolves the EVM decimal scaling for transfers
// destined to addr. An unknown address triggers one metadata refresh, since
// tokens list while the process runs; an address that is still unknown
// afterwards gets the configured default.
func (c *Cache) DecimalsForSystemAddress(ctx context.Context, addr common.Address) int {
	if a, ok := c.BySystemAddress(addr); ok {
		return a.EvmDecimals
	}
	c.refreshForUnknown(ctx, addr)
	if a, ok := c.BySystemAddress(addr); ok {
		return a.EvmDecimals
	}
	return params.BridgeConfig().DefaultTokenDecimals
}

// refreshForUnknown collapses concurrent misses into a single upstream call:
// whoever wins the mutex refreshes, everyone else re-checks the snapshot.
func (c *Cache) refreshForUnknown(ctx context.Context, addr common.Address) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if _, ok := c.BySystemAddress(addr); ok {
		return
	}
	if err := c.Populate(ctx); err != nil {
		log.WithError(err).WithField("systemAddress", addr.Hex()).Warn("Could not refresh asset metadata for unknown system address")
	}
}
