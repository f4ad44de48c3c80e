package kv

import (
	"context"

	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// ErrNotFound is returned when a write targets an entity that does not exist.
var ErrNotFound = errors.New("not found in db")

const maxFailReasonLen = 512

// Transfer retrieval by core hash. Returns nil when no transfer is stored
// under the given hash.
func (s *Store) Transfer(ctx context.Context, coreHash common.Hash) (*types.Transfer, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.Transfer")
	defer span.End()
	var transfer *types.Transfer
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(transfersBucket).Get(coreHash.Bytes())
		if enc == nil {
			return nil
		}
		var err error
		transfer, err = decodeTransfer(enc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

// InsertTransfers stores a batch of transfers. A duplicate coreHash is
// counted and skipped rather than failing the batch, which makes redelivered
// ledger pages idempotent; any other per-document failure aborts the whole
// call. Inserted rows always start pending with empty EVM fields, whatever
// the caller set.
func (s *Store) InsertTransfers(ctx context.Context, transfers []*types.Transfer) (int, int, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.InsertTransfers")
	defer span.End()
	inserted, duplicates := 0, 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(transfersBucket)
		idx := tx.Bucket(transferPendingIndexBucket)
		for _, t := range transfers {
			key := t.CoreHash.Bytes()
			if bkt.Get(key) != nil {
				duplicates++
				continue
			}
			row := t.Copy()
			row.Status = types.StatusPending
			row.FailReason = ""
			row.EVM = nil
			enc, err := encodeTransfer(row)
			if err != nil {
				return err
			}
			if err := bkt.Put(key, enc); err != nil {
				return err
			}
			if err := idx.Put(pendingIndexKey(row.CoreTime, row.CoreHash), key); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, duplicates, nil
}

// PendingTransfers returns up to limit pending transfers, oldest first by
// coreTime.
func (s *Store) PendingTransfers(ctx context.Context, limit int) ([]*types.Transfer, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.PendingTransfers")
	defer span.End()
	if limit <= 0 {
		return nil, nil
	}
	transfers := make([]*types.Transfer, 0, limit)
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(transfersBucket)
		c := tx.Bucket(transferPendingIndexBucket).Cursor()
		for k, v := c.First(); k != nil && len(transfers) < limit; k, v = c.Next() {
			enc := bkt.Get(v)
			if enc == nil {
				return errors.Errorf("pending index references missing transfer %#x", v)
			}
			t, err := decodeTransfer(enc)
			if err != nil {
				return err
			}
			transfers = append(transfers, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// PendingTransferCount returns the number of transfers still pending.
func (s *Store) PendingTransferCount(ctx context.Context) (int, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.PendingTransferCount")
	defer span.End()
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(transferPendingIndexBucket).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkTransferMatched moves a pending transfer to the matched state and
// records its EVM identifiers. Repeating the call, or calling it on a
// transfer that already reached a terminal state, is a no-op.
func (s *Store) MarkTransferMatched(ctx context.Context, coreHash common.Hash, evm *types.EVMMatch) error {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.MarkTransferMatched")
	defer span.End()
	if evm == nil {
		return errors.New("cannot mark a transfer matched without EVM fields")
	}
	return s.markTerminal(coreHash, func(t *types.Transfer) {
		t.Status = types.StatusMatched
		t.FailReason = ""
		t.EVM = evm
	})
}

// MarkTransferFailed moves a pending transfer to the failed state with a
// bounded reason string. Terminal transfers are left untouched.
func (s *Store) MarkTransferFailed(ctx context.Context, coreHash common.Hash, reason string) error {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.MarkTransferFailed")
	defer span.End()
	if len(reason) > maxFailReasonLen {
		reason = reason[:maxFailReasonLen]
	}
	return s.markTerminal(coreHash, func(t *types.Transfer) {
		t.Status = types.StatusFailed
		t.FailReason = reason
	})
}

// markTerminal applies a terminal transition to a transfer that is still
// pending and removes it from the pending index. Only PENDING rows
// transition, so racing workers cannot overwrite a terminal state.
func (s *Store) markTerminal(coreHash common.Hash, mutate func(*types.Transfer)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(transfersBucket)
		key := coreHash.Bytes()
		enc := bkt.Get(key)
		if enc == nil {
			return errors.Wrapf(ErrNotFound, "transfer %#x", coreHash)
		}
		t, err := decodeTransfer(enc)
		if err != nil {
			return err
		}
		if t.Status != types.StatusPending {
			return nil
		}
		mutate(t)
		out, err := encodeTransfer(t)
		if err != nil {
			return err
		}
		if err := bkt.Put(key, out); err != nil {
			return err
		}
		return tx.Bucket(transferPendingIndexBucket).Delete(pendingIndexKey(t.CoreTime, t.CoreHash))
	})
}
