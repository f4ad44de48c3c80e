package corechain

import (
	"context"
	"math/rand"
	"time"

	"github.com/d4mr/coredrain/api/client"
	"github.com/d4mr/coredrain/api/client/core"
	"github.com/d4mr/coredrain/assets"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/db"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// worker tails the ledger history of one watched address.
type worker struct {
	address common.Address
	cursor  uint64 // ms timestamp of the newest ledger entry seen
	db      db.Database
	client  LedgerProvider
	backoff *backoff.Coordinator
	log     *logrus.Entry
}

func (s *Service) newWorker(wa *types.WatchedAddress) *worker {
	return &worker{
		address: wa.Address,
		cursor:  wa.LastIndexedTime,
		db:      s.cfg.Database,
		client:  s.cfg.Client,
		backoff: s.cfg.Coordinator,
		log:     log.WithField("address", wa.Address.Hex()),
	}
}

// run loops until the context ends. Each cycle pulls the ledger page at the
// cursor, persists the bridge transfers on it, and advances the cursor. A
// page that inserted rows is followed immediately by the next one, so
// backfills run flat out; an empty page means the worker is caught up and
// rests a poll interval. The worker never exits on errors.
func (w *worker) run(ctx context.Context) {
	cfg := params.BridgeConfig()
	failures := 0
	for ctx.Err() == nil {
		inserted, err := w.indexOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var rateLimited *client.RateLimitError
			if errors.As(err, &rateLimited) {
				padded := time.Duration(float64(rateLimited.RetryAfter) * cfg.RetryAfterFactor)
				until := w.backoff.Trigger(padded)
				w.log.WithField("until", until).Debug("Ledger provider rate limited")
				continue // the next cycle waits out the shared deadline
			}
			failures++
			indexerErrorsTotal.Inc()
			if failures >= cfg.IndexerMaxAttempts {
				w.log.WithError(err).WithField("failures", failures).Error("Indexing keeps failing, resting")
				failures = 0
				if !sleepCtx(ctx, cfg.CoreIndexerPoll) {
					return
				}
				continue
			}
			delay := retryDelay(cfg.IndexerRetryBase, failures)
			w.log.WithError(err).WithFields(logrus.Fields{
				"attempt": failures,
				"delay":   delay,
			}).Warn("Could not index ledger page, retrying")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		failures = 0
		if inserted > 0 {
			continue
		}
		if !sleepCtx(ctx, cfg.CoreIndexerPoll) {
			return
		}
	}
}

// indexOnce pulls one ledger page at the cursor and persists the bridge
// transfers it carries. Progress is measured by rows inserted, not rows
// received: the inclusive cursor redelivers the boundary entry on every
// page, and redelivered rows dedupe at the store.
func (w *worker) indexOnce(ctx context.Context) (int, error) {
	if err := w.backoff.Wait(ctx); err != nil {
		return 0, err
	}
	cfg := params.BridgeConfig()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.CoreRequestTimeout)
	defer cancel()
	updates, err := w.client.LedgerUpdates(reqCtx, w.address, w.cursor)
	if err != nil {
		return 0, err
	}
	ledgerPagesTotal.Inc()
	if len(updates) == 0 {
		return 0, nil
	}

	maxTime := w.cursor
	transfers := make([]*types.Transfer, 0, len(updates))
	for i := range updates {
		u := &updates[i]
		if u.Time > maxTime {
			maxTime = u.Time
		}
		if t := bridgeTransfer(u, w.address); t != nil {
			transfers = append(transfers, t)
		}
	}

	inserted := 0
	if len(transfers) > 0 {
		var duplicates int
		inserted, duplicates, err = w.db.InsertTransfers(ctx, transfers)
		if err != nil {
			return 0, errors.Wrap(err, "could not persist transfers")
		}
		transfersIndexedTotal.Add(float64(inserted))
		if inserted > 0 {
			w.log.WithFields(logrus.Fields{
				"inserted":   inserted,
				"duplicates": duplicates,
				"cursor":     maxTime,
			}).Info("Indexed bridge transfers")
		}
	}

	if maxTime > w.cursor {
		w.cursor = maxTime
		if err := w.db.UpdateAddressCursor(ctx, w.address, maxTime); err != nil {
			return inserted, errors.Wrap(err, "could not advance address cursor")
		}
	}
	return inserted, nil
}

// bridgeTransfer maps a ledger entry to a pending transfer when it is an
// outgoing spot transfer into the asset bridge, nil otherwise.
func bridgeTransfer(u *core.LedgerUpdate, sender common.Address) *types.Transfer {
	d := u.Delta
	if d == nil || d.Kind != core.DeltaSpotTransfer {
		return nil
	}
	if !assets.IsSystemAddress(d.Destination) {
		return nil
	}
	return &types.Transfer{
		CoreHash:      u.Hash,
		CoreTime:      u.Time,
		Token:         d.Token,
		Amount:        d.Amount,
		Recipient:     d.User,
		SystemAddress: d.Destination,
		WatchedSender: sender,
		UsdcValue:     d.UsdcValue,
		Fee:           d.Fee,
		NativeFee:     d.NativeTokenFee,
		Status:        types.StatusPending,
	}
}

// retryDelay doubles the base per attempt and adds up to half of it again as
// jitter, so workers that failed together retry apart.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// sleepCtx sleeps d unless the context ends first, reporting whether the
// caller should keep going.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
