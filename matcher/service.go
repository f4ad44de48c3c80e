// Package matcher drives pending transfers to their terminal state. A single
// producer keeps a bounded queue topped up with the oldest pending transfers
// while a fixed pool of workers runs the finder against the active block
// provider and records the outcome.
package matcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/d4mr/coredrain/async"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/db"
	"github.com/d4mr/coredrain/evmchain"
	"github.com/d4mr/coredrain/finder"
	"github.com/d4mr/coredrain/types"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "matcher")

// TransferFinder resolves a single transfer against the chain through the
// given block provider.
type TransferFinder interface {
	Find(ctx context.Context, transfer *types.Transfer, fetcher evmchain.BlockFetcher) (*finder.Result, error)
}

// headReader is implemented by providers that can report the chain head.
type headReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// config holds the dependencies handed in through options.
type config struct {
	database      db.Database
	finder        TransferFinder
	rpcFetcher    evmchain.BlockFetcher
	objectFetcher evmchain.BlockFetcher
}

// fetcherBox wraps the active provider so the atomic.Value always stores the
// same concrete type across swaps.
type fetcherBox struct {
	fetcher evmchain.BlockFetcher
}

// Service schedules pending transfers onto a pool of matching workers.
type Service struct {
	cfg    *config
	ctx    context.Context
	cancel context.CancelFunc

	queue  chan *types.Transfer
	queued *lru.Cache   // coreHashes currently queued or in flight
	active atomic.Value // fetcherBox

	wg sync.WaitGroup

	matched atomic.Uint64
	failed  atomic.Uint64
	errored atomic.Uint64
}

// New assembles the matcher pool. The RPC provider is mandatory; the
// object-store provider is optional and only engaged while the pending
// backlog exceeds the backfill threshold.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	cfg := params.BridgeConfig()
	queued, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		cancel()
		return nil, err
	}
	s := &Service{
		cfg:    &config{},
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *types.Transfer, cfg.QueueSize),
		queued: queued,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			cancel()
			return nil, err
		}
	}
	if s.cfg.database == nil {
		cancel()
		return nil, errors.New("matcher requires a database")
	}
	if s.cfg.finder == nil {
		cancel()
		return nil, errors.New("matcher requires a finder")
	}
	if s.cfg.rpcFetcher == nil {
		cancel()
		return nil, errors.New("matcher requires an rpc block provider")
	}
	s.active.Store(fetcherBox{fetcher: s.cfg.rpcFetcher})
	return s, nil
}

// Start spins up the worker pool, the queue producer, and the stats logger.
func (s *Service) Start() {
	cfg := params.BridgeConfig()
	s.logChainHead()
	for i := 0; i < cfg.MatcherConcurrency; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.refill()
	async.RunEvery(s.ctx, cfg.RefillInterval, s.refill)
	async.RunEvery(s.ctx, cfg.StatsInterval, s.logStats)
	log.WithFields(logrus.Fields{
		"workers":   cfg.MatcherConcurrency,
		"queueSize": cfg.QueueSize,
	}).Info("Matcher pool started")
}

// Stop cancels every loop and waits for in-flight matches to drain.
func (s *Service) Stop() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// Status always reports healthy. Upstream trouble surfaces as retries and
// metrics, not as service degradation.
func (s *Service) Status() error {
	return nil
}

// logChainHead records where the chain is at startup, giving operators a
// sense of how far anchor coverage trails the head.
func (s *Service) logChainHead() {
	hr, ok := s.cfg.rpcFetcher.(headReader)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, params.BridgeConfig().FetchTimeout)
	defer cancel()
	head, err := hr.BlockNumber(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not read chain head")
		return
	}
	log.WithField("headBlock", head).Info("Connected to EVM chain")
}

// refill tops the queue back up once it drains below the low watermark and
// re-evaluates the provider strategy against the pending backlog.
func (s *Service) refill() {
	cfg := params.BridgeConfig()
	if len(s.queue) >= cfg.LowWatermark {
		return
	}
	pending, err := s.cfg.database.PendingTransferCount(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not count pending transfers")
		return
	}
	pendingTransfers.Set(float64(pending))
	s.selectFetcher(pending)

	limit := cfg.QueueSize - len(s.queue)
	if limit > cfg.MatcherBatchSize {
		limit = cfg.MatcherBatchSize
	}
	if limit <= 0 {
		return
	}
	transfers, err := s.cfg.database.PendingTransfers(s.ctx, limit)
	if err != nil {
		log.WithError(err).Error("Could not load pending transfers")
		return
	}
	for _, t := range transfers {
		if inFlight, _ := s.queued.ContainsOrAdd(t.CoreHash, struct{}{}); inFlight {
			continue
		}
		select {
		case s.queue <- t:
		case <-s.ctx.Done():
			return
		}
	}
	queueLength.Set(float64(len(s.queue)))
}

// selectFetcher flips between the free RPC provider and the paid
// object-store provider based on backlog depth. The swap is visible to
// workers on their next dequeue.
func (s *Service) selectFetcher(pending int) {
	cfg := params.BridgeConfig()
	want := s.cfg.rpcFetcher
	if s.cfg.objectFetcher != nil && pending > cfg.BackfillThreshold {
		want = s.cfg.objectFetcher
	}
	if s.activeFetcher() == want {
		return
	}
	s.active.Store(fetcherBox{fetcher: want})
	if want == s.cfg.objectFetcher {
		backfillActive.Set(1)
	} else {
		backfillActive.Set(0)
	}
	log.WithFields(logrus.Fields{
		"provider": want.Name(),
		"pending":  pending,
	}).Info("Switched block provider")
}

// activeFetcher returns the provider workers should use right now.
func (s *Service) activeFetcher() evmchain.BlockFetcher {
	return s.active.Load().(fetcherBox).fetcher
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case transfer := <-s.queue:
			s.matchOne(transfer)
		}
	}
}

// matchOne runs a single transfer to an outcome. Matched and failed are
// terminal and recorded durably; anything else leaves the transfer pending
// and eligible for a later refill.
func (s *Service) matchOne(transfer *types.Transfer) {
	ctx, cancel := context.WithTimeout(s.ctx, params.BridgeConfig().MatchTimeout)
	defer cancel()

	result, err := s.cfg.finder.Find(ctx, transfer, s.activeFetcher())
	var notFound *finder.NotFoundError
	switch {
	case err == nil:
		s.recordMatched(transfer, result)
	case errors.As(err, &notFound):
		s.recordFailed(transfer, notFound)
	default:
		s.retryLater(transfer, err, "Could not match transfer, will retry")
	}
}

func (s *Service) recordMatched(transfer *types.Transfer, result *finder.Result) {
	anchor := result.Anchor
	match := &types.EVMMatch{
		InternalHash:    anchor.InternalHash,
		ExplorerHash:    anchor.ExplorerHash,
		BlockNumber:     anchor.BlockNumber,
		BlockHash:       anchor.BlockHash,
		BlockTime:       anchor.BlockTime,
		ContractAddress: anchor.ContractAddress,
	}
	if err := s.cfg.database.MarkTransferMatched(s.ctx, transfer.CoreHash, match); err != nil {
		s.retryLater(transfer, err, "Could not persist match")
		return
	}
	s.matched.Add(1)
	transfersMatchedTotal.Inc()
	log.WithFields(logrus.Fields{
		"coreHash": transfer.CoreHash,
		"evmHash":  anchor.ExplorerHash,
		"block":    anchor.BlockNumber,
		"rounds":   result.Rounds,
		"elapsed":  result.Elapsed,
	}).Debug("Matched transfer")
}

func (s *Service) recordFailed(transfer *types.Transfer, cause *finder.NotFoundError) {
	if err := s.cfg.database.MarkTransferFailed(s.ctx, transfer.CoreHash, cause.Error()); err != nil {
		s.retryLater(transfer, err, "Could not persist failure")
		return
	}
	s.failed.Add(1)
	transfersFailedTotal.Inc()
	log.WithFields(logrus.Fields{
		"coreHash": transfer.CoreHash,
		"searched": cause.BlocksSearched,
	}).Info("Transfer has no EVM counterpart")
}

// retryLater backs a transfer out of the in-flight set so a later refill
// picks it up again.
func (s *Service) retryLater(transfer *types.Transfer, err error, msg string) {
	s.errored.Add(1)
	matchErrorsTotal.Inc()
	s.queued.Remove(transfer.CoreHash)
	log.WithError(err).WithFields(logrus.Fields{
		"coreHash": transfer.CoreHash,
		"token":    transfer.Token,
	}).Warn(msg)
}

// logStats emits the periodic operator digest.
func (s *Service) logStats() {
	pending, err := s.cfg.database.PendingTransferCount(s.ctx)
	if err != nil {
		log.WithError(err).Debug("Could not count pending transfers")
	}
	log.WithFields(logrus.Fields{
		"matched":  s.matched.Load(),
		"failed":   s.failed.Load(),
		"errors":   s.errored.Load(),
		"queued":   len(s.queue),
		"pending":  pending,
		"provider": s.activeFetcher().Name(),
	}).Info("Matcher stats")
}
