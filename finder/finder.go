package finder

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/evmchain"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// DecimalsResolver supplies the EVM decimal scaling of a system address.
type DecimalsResolver interface {
	DecimalsForSystemAddress(ctx context.Context, addr common.Address) int
}

// Result carries the matched anchor along with search effort counters.
// Rounds and BlocksSearched are zero when the match came from the cache.
type Result struct {
	Anchor         *types.AnchorTx
	Rounds         int
	BlocksSearched int
	Elapsed        time.Duration
}

// NotFoundError reports a search that concluded the transfer has no
// corresponding EVM transaction. Its message doubles as the stored
// failure reason.
type NotFoundError struct {
	BlocksSearched int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found after %d blocks", e.BlocksSearched)
}

// Finder resolves ledger transfers to EVM transactions by interpolating
// block timestamps between anchor bounds.
type Finder struct {
	decimals DecimalsResolver
	anchors  *AnchorIndex
}

// New returns a finder reading and feeding the given anchor index.
func New(decimals DecimalsResolver, anchors *AnchorIndex) *Finder {
	return &Finder{decimals: decimals, anchors: anchors}
}

// Find locates the EVM transaction realizing the transfer, fetching blocks
// through the supplied fetcher as needed. It returns *NotFoundError when the
// search space is exhausted; fetch and store errors propagate unchanged, in
// which case the transfer may be retried later.
func (f *Finder) Find(ctx context.Context, transfer *types.Transfer, fetcher evmchain.BlockFetcher) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "finder.Find")
	defer span.End()
	start := time.Now()
	cfg := params.BridgeConfig()

	evmDecimals := f.decimals.DecimalsForSystemAddress(ctx, transfer.SystemAddress)
	amount, err := ParseAmount(transfer.Amount, evmDecimals)
	if err != nil {
		return nil, errors.Wrapf(err, "could not parse transfer amount %q", transfer.Amount)
	}

	cached, err := f.probeCache(ctx, transfer, amount)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		cacheHitsTotal.Inc()
		return &Result{Anchor: cached, Elapsed: time.Since(start)}, nil
	}

	lo, hi, err := f.anchors.Bracketing(ctx, transfer.CoreTime)
	if err != nil {
		return nil, err
	}
	if lo == nil {
		lo = &types.AnchorRef{BlockNumber: cfg.SeedBlockNumber, BlockTime: cfg.SeedBlockTime}
	}

	blocksSearched := 0
	for round := 1; round <= cfg.MaxSearchRounds; round++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		est := estimateBlock(transfer.CoreTime, lo, hi, cfg.DefaultBlockRate)
		batch := batchAround(est, lo, hi, cfg.SearchBatchSize)
		if len(batch) == 0 {
			// No unsearched blocks remain between the bounds.
			return nil, &NotFoundError{BlocksSearched: blocksSearched}
		}
		blocks, err := fetcher.FetchBlocks(ctx, batch)
		if err != nil {
			return nil, err
		}
		f.anchors.StoreInBackground(blocks)
		blocksSearched += len(blocks)

		if anchor := scanBlocks(blocks, transfer.SystemAddress, transfer.Recipient, amount); anchor != nil {
			elapsed := time.Since(start)
			searchRounds.Observe(float64(round))
			searchSeconds.Observe(elapsed.Seconds())
			return &Result{Anchor: anchor, Rounds: round, BlocksSearched: blocksSearched, Elapsed: elapsed}, nil
		}

		lo, hi = tightenBounds(lo, hi, blocks, transfer.CoreTime)
		if hi != nil && hi.BlockNumber <= lo.BlockNumber+1 {
			return nil, &NotFoundError{BlocksSearched: blocksSearched}
		}
	}
	return nil, &NotFoundError{BlocksSearched: blocksSearched}
}

// probeCache looks for an already-indexed anchor near the transfer's ledger
// time. The window reaches slightly back to absorb clock skew and further
// ahead to cover EVM settlement lag.
func (f *Finder) probeCache(ctx context.Context, transfer *types.Transfer, amount *big.Int) (*types.AnchorTx, error) {
	cfg := params.BridgeConfig()
	minTime := uint64(0)
	if back := uint64(cfg.CacheProbeBack.Milliseconds()); transfer.CoreTime > back {
		minTime = transfer.CoreTime - back
	}
	maxTime := transfer.CoreTime + uint64(cfg.CacheProbeAhead.Milliseconds())
	return f.anchors.Matching(ctx, transfer.SystemAddress, transfer.Recipient, amount, minTime, maxTime)
}

// estimateBlock guesses the block holding the target time by linear
// interpolation between the bounds. With no upper bound, or bounds that
// leave no time interval, it extrapolates past the lower anchor at the
// chain's assumed block rate.
func estimateBlock(target uint64, lo, hi *types.AnchorRef, blocksPerSecond uint64) uint64 {
	if hi == nil || hi.BlockTime <= lo.BlockTime || hi.BlockNumber <= lo.BlockNumber {
		if target <= lo.BlockTime {
			return lo.BlockNumber
		}
		return lo.BlockNumber + (target-lo.BlockTime)*blocksPerSecond/1000
	}
	offset := (float64(target) - float64(lo.BlockTime)) *
		float64(hi.BlockNumber-lo.BlockNumber) / (float64(hi.BlockTime) - float64(lo.BlockTime))
	est := float64(lo.BlockNumber) + math.Round(offset)
	if est < float64(lo.BlockNumber) {
		return lo.BlockNumber
	}
	if est > float64(hi.BlockNumber) {
		return hi.BlockNumber
	}
	return uint64(est)
}

// batchAround builds up to batchSize contiguous block numbers centered on
// est, shifted to stay strictly between the bounds and never below block 1.
// The bound blocks themselves are already indexed, so they are not
// candidates. Returns nil when no blocks remain between the bounds.
func batchAround(est uint64, lo, hi *types.AnchorRef, batchSize uint64) []uint64 {
	if batchSize == 0 {
		batchSize = 1
	}
	minBlock := lo.BlockNumber + 1
	if minBlock < 1 {
		minBlock = 1
	}
	maxBlock := uint64(math.MaxUint64)
	if hi != nil {
		if hi.BlockNumber <= minBlock {
			return nil
		}
		maxBlock = hi.BlockNumber - 1
	}
	if maxBlock-minBlock+1 < batchSize {
		batchSize = maxBlock - minBlock + 1
	}

	start := minBlock
	if half := (batchSize - 1) / 2; est > minBlock+half {
		start = est - half
	}
	if start > maxBlock-batchSize+1 {
		start = maxBlock - batchSize + 1
	}

	batch := make([]uint64, 0, batchSize)
	for n := start; n < start+batchSize; n++ {
		batch = append(batch, n)
	}
	return batch
}

// scanBlocks returns the anchor of the first system transaction carrying the
// match tuple, or nil.
func scanBlocks(blocks []*types.BlockData, from, recipient common.Address, amount *big.Int) *types.AnchorTx {
	for _, b := range blocks {
		for _, tx := range b.SystemTxs {
			if tx.From == from && tx.AssetRecipient == recipient && tx.Amount != nil && tx.Amount.Cmp(amount) == 0 {
				return tx.AnchorTx(b)
			}
		}
	}
	return nil
}

// tightenBounds raises the lower bound to the latest fetched block at or
// before the target time and lowers the upper bound to the earliest fetched
// block past it. Bounds only ever move inward.
func tightenBounds(lo, hi *types.AnchorRef, blocks []*types.BlockData, target uint64) (*types.AnchorRef, *types.AnchorRef) {
	for _, b := range blocks {
		ref := &types.AnchorRef{BlockNumber: b.Number, BlockTime: b.Time}
		if b.Time <= target {
			if ref.BlockNumber > lo.BlockNumber {
				lo = ref
			}
		} else if hi == nil || ref.BlockNumber < hi.BlockNumber {
			hi = ref
		}
	}
	return lo, hi
}
