package corechain

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/d4mr/coredrain/api/client"
	"github.com/d4mr/coredrain/api/client/core"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/db"
	dbtest "github.com/d4mr/coredrain/db/testing"
	"github.com/d4mr/coredrain/testing/assert"
	"github.com/d4mr/coredrain/testing/require"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	watchedA      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	watchedB      = common.HexToAddress("0x4444444444444444444444444444444444444444")
	recipientAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	systemDest    = common.HexToAddress("0x20000000000000000000000000000000000000de")
)

type ledgerOutcome struct {
	updates []core.LedgerUpdate
	err     error
}

// scriptedLedger pages out canned ledger histories in order and records what
// was asked of it. Exhausted scripts answer with empty pages, the caught-up
// response.
type scriptedLedger struct {
	mu       sync.Mutex
	outcomes map[common.Address][]ledgerOutcome
	starts   map[common.Address][]uint64
	stamps   map[common.Address][]time.Time
}

func newScriptedLedger() *scriptedLedger {
	return &scriptedLedger{
		outcomes: map[common.Address][]ledgerOutcome{},
		starts:   map[common.Address][]uint64{},
		stamps:   map[common.Address][]time.Time{},
	}
}

func (l *scriptedLedger) add(addr common.Address, out ledgerOutcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[addr] = append(l.outcomes[addr], out)
}

func (l *scriptedLedger) LedgerUpdates(_ context.Context, user common.Address, startTime uint64) ([]core.LedgerUpdate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts[user] = append(l.starts[user], startTime)
	l.stamps[user] = append(l.stamps[user], time.Now())
	queue := l.outcomes[user]
	if len(queue) == 0 {
		return nil, nil
	}
	out := queue[0]
	l.outcomes[user] = queue[1:]
	return out.updates, out.err
}

func (l *scriptedLedger) callCount(addr common.Address) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts[addr])
}

func (l *scriptedLedger) callStarts(addr common.Address) []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint64{}, l.starts[addr]...)
}

func (l *scriptedLedger) callStamps(addr common.Address) []time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time{}, l.stamps[addr]...)
}

func spotTransferUpdate(seed int64, t uint64) core.LedgerUpdate {
	return core.LedgerUpdate{
		Time: t,
		Hash: common.BigToHash(big.NewInt(seed)),
		Delta: &core.LedgerDelta{
			Kind:           core.DeltaSpotTransfer,
			Token:          "UETH",
			Amount:         "0.5",
			User:           recipientAddr,
			Destination:    systemDest,
			UsdcValue:      "1250.75",
			Fee:            "1",
			NativeTokenFee: "0.001",
		},
	}
}

// nonBridgeUpdates are ledger entries the indexer must skip: a different
// delta kind and a spot transfer to a regular address.
func nonBridgeUpdates(seed int64, t uint64) []core.LedgerUpdate {
	deposit := core.LedgerUpdate{
		Time:  t,
		Hash:  common.BigToHash(big.NewInt(seed)),
		Delta: &core.LedgerDelta{Kind: "deposit", Amount: "100"},
	}
	peerTransfer := spotTransferUpdate(seed+1, t+1)
	peerTransfer.Delta.Destination = common.HexToAddress("0x9999999999999999999999999999999999999999")
	return []core.LedgerUpdate{deposit, peerTransfer}
}

func setupFleet(t *testing.T, ledger LedgerProvider, addressFile string) (*Service, db.Database, *backoff.Coordinator) {
	d := dbtest.SetupDB(t)
	coordinator := backoff.NewCoordinator()
	s, err := New(context.Background(), &Config{
		Database:    d,
		Client:      ledger,
		Coordinator: coordinator,
		AddressFile: addressFile,
	})
	require.NoError(t, err)
	return s, d, coordinator
}

func saveActive(t *testing.T, d db.Database, addr common.Address) {
	require.NoError(t, d.SaveWatchedAddress(context.Background(), &types.WatchedAddress{
		Address:  addr,
		IsActive: true,
	}))
}

func TestWorker_IndexesLedgerPages(t *testing.T) {
	ctx := context.Background()
	base := params.BridgeConfig().SeedBlockTime

	ledger := newScriptedLedger()
	page1 := append([]core.LedgerUpdate{spotTransferUpdate(1, base+1000)}, nonBridgeUpdates(2, base+2000)...)
	ledger.add(watchedA, ledgerOutcome{updates: page1})
	// The next page redelivers the boundary entry, inclusive-start style.
	ledger.add(watchedA, ledgerOutcome{updates: []core.LedgerUpdate{spotTransferUpdate(1, base+1000)}})

	s, d, _ := setupFleet(t, ledger, "")
	saveActive(t, d, watchedA)
	w := s.newWorker(&types.WatchedAddress{Address: watchedA})

	inserted, err := w.indexOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "only the bridge transfer is persisted")

	got, err := d.Transfer(ctx, spotTransferUpdate(1, base+1000).Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Equal(t, "UETH", got.Token)
	assert.Equal(t, "0.5", got.Amount)
	assert.Equal(t, recipientAddr, got.Recipient)
	assert.Equal(t, systemDest, got.SystemAddress)
	assert.Equal(t, watchedA, got.WatchedSender)
	assert.Equal(t, "1250.75", got.UsdcValue)
	assert.Equal(t, base+1000, got.CoreTime)

	// Cursor advanced to the newest entry of the page, bridge or not.
	wa, err := d.WatchedAddress(ctx, watchedA)
	require.NoError(t, err)
	assert.Equal(t, base+2001, wa.LastIndexedTime)

	// Redelivered rows dedupe at the store, so no progress is reported.
	inserted, err = w.indexOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	starts := ledger.callStarts(watchedA)
	require.Equal(t, 2, len(starts))
	assert.Equal(t, uint64(0), starts[0], "a fresh address is indexed from the beginning")
	assert.Equal(t, base+2001, starts[1], "the next page starts at the cursor, inclusive")
}

func TestWorker_RunRecoversFromTransientErrors(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.IndexerRetryBase = time.Millisecond
	cfg.CoreIndexerPoll = 5 * time.Millisecond
	params.OverrideBridgeConfig(cfg)

	base := cfg.SeedBlockTime
	ledger := newScriptedLedger()
	ledger.add(watchedA, ledgerOutcome{err: errors.New("core api unreachable")})
	ledger.add(watchedA, ledgerOutcome{updates: []core.LedgerUpdate{spotTransferUpdate(7, base+1000)}})

	s, d, _ := setupFleet(t, ledger, "")
	saveActive(t, d, watchedA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	w := s.newWorker(&types.WatchedAddress{Address: watchedA})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := d.Transfer(context.Background(), spotTransferUpdate(7, base+1000).Hash)
		require.NoError(t, err)
		if got != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, err := d.Transfer(context.Background(), spotTransferUpdate(7, base+1000).Hash)
	require.NoError(t, err)
	require.NotNil(t, got, "the worker must survive a failed page and index the next one")

	cancel()
	<-done
}

func TestWorker_RateLimitQuiescesUntilDeadline(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.BackoffJitterMax = time.Millisecond
	cfg.CoreIndexerPoll = 5 * time.Millisecond
	params.OverrideBridgeConfig(cfg)

	ledger := newScriptedLedger()
	ledger.add(watchedA, ledgerOutcome{err: &client.RateLimitError{RetryAfter: 100 * time.Millisecond}})

	s, d, coordinator := setupFleet(t, ledger, "")
	saveActive(t, d, watchedA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	w := s.newWorker(&types.WatchedAddress{Address: watchedA})
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && ledger.callCount(watchedA) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	stamps := ledger.callStamps(watchedA)
	require.Equal(t, true, len(stamps) >= 2, "worker must resume after the deadline")
	armed := coordinator.Deadline()
	assert.Equal(t, true, armed.After(stamps[0]), "the 429 must arm the shared backoff")
	// Padded by the safety factor: 100ms * 1.1.
	assert.Equal(t, true, armed.Sub(stamps[0]) >= 100*time.Millisecond)
	assert.Equal(t, true, stamps[1].After(armed) || stamps[1].Equal(armed),
		"no request may go out before the shared deadline passes")
}

func TestBridgeTransfer_FiltersNonBridgeEntries(t *testing.T) {
	update := spotTransferUpdate(1, 1000)
	require.NotNil(t, bridgeTransfer(&update, watchedA))

	noDelta := core.LedgerUpdate{Time: 1, Hash: common.HexToHash("0x01")}
	assert.Equal(t, true, bridgeTransfer(&noDelta, watchedA) == nil)

	for _, u := range nonBridgeUpdates(2, 2000) {
		u := u
		assert.Equal(t, true, bridgeTransfer(&u, watchedA) == nil)
	}
}
