package evmchain

import (
	"context"
	"net/http"
	"sort"

	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/io/logs"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// opsPerBlock is the number of batch operations spent per block: one header
// read and one system-transactions read.
const opsPerBlock = 2

// RPCFetcher retrieves blocks over JSON-RPC. It is the free provider: block
// numbers are packed into batches under the server's operation cap and the
// batches run sequentially.
type RPCFetcher struct {
	client      *gethrpc.Client
	coordinator *backoff.Coordinator
}

// NewRPCFetcher dials the JSON-RPC endpoint.
func NewRPCFetcher(ctx context.Context, endpoint string, coordinator *backoff.Coordinator) (*RPCFetcher, error) {
	client, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "could not dial EVM rpc endpoint")
	}
	log.WithField("endpoint", logs.MaskCredentialsLogging(endpoint)).Info("Connected to EVM rpc endpoint")
	return &RPCFetcher{client: client, coordinator: coordinator}, nil
}

// Name implements BlockFetcher.
func (f *RPCFetcher) Name() string {
	return "rpc"
}

// BlockNumber returns the chain head block number.
func (f *RPCFetcher) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.coordinator.Wait(ctx); err != nil {
		return 0, err
	}
	var head hexutil.Uint64
	if err := f.client.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, f.noteRateLimit(err)
	}
	return uint64(head), nil
}

// rpcHeader is the subset of eth_getBlockByNumber the engine consumes.
type rpcHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// rpcSystemTx is one entry of eth_getSystemTxsByBlockNumber: the legacy
// transaction fields with the receipt logs inlined.
type rpcSystemTx struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Nonce    hexutil.Uint64  `json:"nonce"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Gas      hexutil.Uint64  `json:"gas"`
	Value    *hexutil.Big    `json:"value"`
	Input    hexutil.Bytes   `json:"input"`
	Logs     []rpcLog        `json:"logs"`
}

type rpcLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
}

func (tx *rpcSystemTx) raw() *rawTx {
	raw := &rawTx{
		From:     tx.From,
		To:       tx.To,
		Nonce:    uint64(tx.Nonce),
		GasPrice: tx.GasPrice.ToInt(),
		Gas:      uint64(tx.Gas),
		Value:    tx.Value.ToInt(),
		Input:    tx.Input,
	}
	for _, lg := range tx.Logs {
		raw.Logs = append(raw.Logs, rawLog{Address: lg.Address, Topics: lg.Topics})
	}
	return raw
}

// FetchBlocks implements BlockFetcher. Blocks are fetched in ascending
// order, MaxRPCBatch/2 per HTTP round trip, one round trip at a time.
func (f *RPCFetcher) FetchBlocks(ctx context.Context, blockNumbers []uint64) ([]*types.BlockData, error) {
	if len(blockNumbers) == 0 {
		return nil, nil
	}
	sorted := make([]uint64, len(blockNumbers))
	copy(sorted, blockNumbers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	perChunk := params.BridgeConfig().MaxRPCBatch / opsPerBlock
	if perChunk < 1 {
		perChunk = 1
	}
	blocks := make([]*types.BlockData, 0, len(sorted))
	for start := 0; start < len(sorted); start += perChunk {
		end := start + perChunk
		if end > len(sorted) {
			end = len(sorted)
		}
		chunk, err := f.fetchChunk(ctx, sorted[start:end])
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, chunk...)
	}
	blocksFetchedTotal.WithLabelValues(f.Name()).Add(float64(len(blocks)))
	return blocks, nil
}

func (f *RPCFetcher) fetchChunk(ctx context.Context, blockNumbers []uint64) ([]*types.BlockData, error) {
	headers := make([]rpcHeader, len(blockNumbers))
	systemTxs := make([][]rpcSystemTx, len(blockNumbers))
	batch := make([]gethrpc.BatchElem, 0, len(blockNumbers)*opsPerBlock)
	for i, n := range blockNumbers {
		hexNum := hexutil.EncodeUint64(n)
		batch = append(batch,
			gethrpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []interface{}{hexNum, false},
				Result: &headers[i],
			},
			gethrpc.BatchElem{
				Method: "eth_getSystemTxsByBlockNumber",
				Args:   []interface{}{hexNum},
				Result: &systemTxs[i],
			},
		)
	}
	err := retryTransient(ctx, f.Name(), func() error {
		if err := f.coordinator.Wait(ctx); err != nil {
			return err
		}
		if err := f.client.BatchCallContext(ctx, batch); err != nil {
			return f.noteRateLimit(err)
		}
		for i := range batch {
			if batch[i].Error != nil {
				return f.noteRateLimit(errors.Wrapf(batch[i].Error, "%s failed for block %d", batch[i].Method, blockNumbers[i/opsPerBlock]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chainID := params.BridgeConfig().ChainID
	blocks := make([]*types.BlockData, 0, len(blockNumbers))
	for i, n := range blockNumbers {
		if headers[i].Hash == (common.Hash{}) {
			return nil, errors.Errorf("block %d is not available on the rpc provider", n)
		}
		raws := make([]*rawTx, 0, len(systemTxs[i]))
		for j := range systemTxs[i] {
			raws = append(raws, systemTxs[i][j].raw())
		}
		blocks = append(blocks, &types.BlockData{
			Number:    uint64(headers[i].Number),
			Hash:      headers[i].Hash,
			Time:      uint64(headers[i].Timestamp) * 1000,
			SystemTxs: extractSystemTxs(raws, chainID),
		})
	}
	return blocks, nil
}

// noteRateLimit feeds rate-limit responses, HTTP 429s and their rpc error
// code equivalent, into the shared backoff coordinator before handing the
// error back to the retry loop.
func (f *RPCFetcher) noteRateLimit(err error) error {
	var httpErr gethrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		f.coordinator.Trigger(params.BridgeConfig().DefaultRetryAfter)
		return err
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcRateLimitCode {
		f.coordinator.Trigger(params.BridgeConfig().DefaultRetryAfter)
	}
	return err
}
