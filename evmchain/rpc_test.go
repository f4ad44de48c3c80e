package evmchain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/d4mr/coredrain/assets"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/testing/assert"
	"github.com/d4mr/coredrain/testing/require"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type rpcCall struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeRPCServer answers eth_blockNumber, eth_getBlockByNumber and
// eth_getSystemTxsByBlockNumber for blocks up to head.
type fakeRPCServer struct {
	head uint64
	txs  map[uint64][]map[string]interface{}

	mu         sync.Mutex
	batchSizes []int
	failures   int // initial requests answered with failStatus
	failStatus int
}

func testBlockHash(n uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(n + 1000))
}

func testBlockTime(n uint64) uint64 {
	return 1715000000 + n // seconds
}

func (s *fakeRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		status := s.failStatus
		s.mu.Unlock()
		http.Error(w, "upstream unhappy", status)
		return
	}
	s.mu.Unlock()

	trimmed := bytes.TrimSpace(body)
	w.Header().Set("Content-Type", "application/json")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var calls []rpcCall
		if err := json.Unmarshal(trimmed, &calls); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.batchSizes = append(s.batchSizes, len(calls))
		s.mu.Unlock()
		resps := make([]map[string]interface{}, 0, len(calls))
		for _, c := range calls {
			resps = append(resps, map[string]interface{}{"jsonrpc": "2.0", "id": c.ID, "result": s.result(c)})
		}
		_ = json.NewEncoder(w).Encode(resps)
		return
	}
	var c rpcCall
	if err := json.Unmarshal(trimmed, &c); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": c.ID, "result": s.result(c)})
}

func (s *fakeRPCServer) result(c rpcCall) interface{} {
	var blockHex string
	if len(c.Params) > 0 {
		_ = json.Unmarshal(c.Params[0], &blockHex)
	}
	switch c.Method {
	case "eth_blockNumber":
		return hexutil.EncodeUint64(s.head)
	case "eth_getBlockByNumber":
		n, err := hexutil.DecodeUint64(blockHex)
		if err != nil || n > s.head {
			return nil
		}
		return map[string]interface{}{
			"number":    hexutil.EncodeUint64(n),
			"hash":      testBlockHash(n).Hex(),
			"timestamp": hexutil.EncodeUint64(testBlockTime(n)),
		}
	case "eth_getSystemTxsByBlockNumber":
		n, err := hexutil.DecodeUint64(blockHex)
		if err != nil {
			return []interface{}{}
		}
		if txs, ok := s.txs[n]; ok {
			return txs
		}
		return []interface{}{}
	}
	return nil
}

func nativeTxJSON(value uint64, to common.Address) map[string]interface{} {
	return map[string]interface{}{
		"from":     assets.NativeSystemAddress.Hex(),
		"to":       to.Hex(),
		"nonce":    "0x0",
		"gasPrice": "0x0",
		"gas":      "0x5208",
		"value":    hexutil.EncodeUint64(value),
		"input":    "0x",
	}
}

func newTestRPCFetcher(t *testing.T, srv *fakeRPCServer) (*RPCFetcher, *backoff.Coordinator) {
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	coordinator := backoff.NewCoordinator()
	fetcher, err := NewRPCFetcher(context.Background(), hs.URL, coordinator)
	require.NoError(t, err)
	return fetcher, coordinator
}

func TestRPCFetcher_FetchBlocks(t *testing.T) {
	user := addr(0xaa)
	srv := &fakeRPCServer{
		head: 10000,
		txs: map[uint64][]map[string]interface{}{
			5: {nativeTxJSON(500, user)},
		},
	}
	fetcher, _ := newTestRPCFetcher(t, srv)

	blocks, err := fetcher.FetchBlocks(context.Background(), []uint64{5, 3})
	require.NoError(t, err)
	require.Equal(t, 2, len(blocks))

	assert.Equal(t, uint64(3), blocks[0].Number, "Blocks come back sorted by number")
	assert.Equal(t, testBlockHash(3), blocks[0].Hash)
	assert.Equal(t, testBlockTime(3)*1000, blocks[0].Time, "Chain seconds become engine milliseconds")
	assert.Equal(t, 0, len(blocks[0].SystemTxs))

	require.Equal(t, 1, len(blocks[1].SystemTxs))
	tx := blocks[1].SystemTxs[0]
	assert.Equal(t, assets.NativeSystemAddress, tx.From)
	assert.Equal(t, user, tx.AssetRecipient)
	assert.Equal(t, "500", tx.Amount.String())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Equal(t, 1, len(srv.batchSizes))
	assert.Equal(t, 4, srv.batchSizes[0], "Two ops per block")
}

func TestRPCFetcher_ChunksUnderTheBatchCap(t *testing.T) {
	srv := &fakeRPCServer{head: 10000}
	fetcher, _ := newTestRPCFetcher(t, srv)

	want := make([]uint64, 0, 12)
	for n := uint64(1); n <= 12; n++ {
		want = append(want, n)
	}
	blocks, err := fetcher.FetchBlocks(context.Background(), want)
	require.NoError(t, err)
	require.Equal(t, 12, len(blocks))
	for i, b := range blocks {
		assert.Equal(t, want[i], b.Number)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Equal(t, 2, len(srv.batchSizes), "12 blocks need two sequential chunks")
	assert.Equal(t, 20, srv.batchSizes[0])
	assert.Equal(t, 4, srv.batchSizes[1])
}

func TestRPCFetcher_RetriesTransientFailures(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.FetchRetryBase = time.Millisecond
	params.OverrideBridgeConfig(cfg)

	srv := &fakeRPCServer{head: 100, failures: 1, failStatus: http.StatusInternalServerError}
	fetcher, _ := newTestRPCFetcher(t, srv)

	blocks, err := fetcher.FetchBlocks(context.Background(), []uint64{7})
	require.NoError(t, err, "One 500 must be absorbed by the retry budget")
	require.Equal(t, 1, len(blocks))
	assert.Equal(t, uint64(7), blocks[0].Number)
}

func TestRPCFetcher_ExhaustedRetriesPropagate(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.FetchRetryBase = time.Millisecond
	params.OverrideBridgeConfig(cfg)

	srv := &fakeRPCServer{head: 100, failures: 100, failStatus: http.StatusInternalServerError}
	fetcher, _ := newTestRPCFetcher(t, srv)

	_, err := fetcher.FetchBlocks(context.Background(), []uint64{7})
	require.NotNil(t, err)
}

func TestRPCFetcher_RateLimitTriggersSharedBackoff(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.FetchRetryBase = time.Millisecond
	cfg.FetchMaxAttempts = 1
	params.OverrideBridgeConfig(cfg)

	srv := &fakeRPCServer{head: 100, failures: 1, failStatus: http.StatusTooManyRequests}
	fetcher, coordinator := newTestRPCFetcher(t, srv)

	_, err := fetcher.FetchBlocks(context.Background(), []uint64{7})
	require.NotNil(t, err)
	assert.Equal(t, true, coordinator.Deadline().After(time.Now()), "A 429 must arm the shared backoff")
}

func TestRPCFetcher_MissingBlockFails(t *testing.T) {
	srv := &fakeRPCServer{head: 10}
	fetcher, _ := newTestRPCFetcher(t, srv)

	_, err := fetcher.FetchBlocks(context.Background(), []uint64{11})
	require.ErrorContains(t, "not available", err)
}

func TestRPCFetcher_BlockNumber(t *testing.T) {
	srv := &fakeRPCServer{head: 424242}
	fetcher, _ := newTestRPCFetcher(t, srv)

	head, err := fetcher.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(424242), head)
}
