package kv

import (
	"bytes"
	"context"
	"math/big"

	"github.com/d4mr/coredrain/encoding/bytesutil"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// AnchorTx retrieval by internal hash. Returns nil when no anchor is stored
// under the given hash.
func (s *Store) AnchorTx(ctx context.Context, internalHash common.Hash) (*types.AnchorTx, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.AnchorTx")
	defer span.End()
	var anchor *types.AnchorTx
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(anchorsBucket).Get(internalHash.Bytes())
		if enc == nil {
			return nil
		}
		var err error
		anchor, err = decodeAnchor(enc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return anchor, nil
}

// InsertAnchorTxs stores anchors keyed by internal hash and maintains the
// time and match-tuple indexes. Anchors already present are skipped, so
// concurrent searches over overlapping block ranges can all persist what
// they fetched without coordination.
func (s *Store) InsertAnchorTxs(ctx context.Context, anchors []*types.AnchorTx) (int, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.InsertAnchorTxs")
	defer span.End()
	inserted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(anchorsBucket)
		timeIdx := tx.Bucket(anchorTimeIndexBucket)
		matchIdx := tx.Bucket(anchorMatchIndexBucket)
		for _, a := range anchors {
			key := a.InternalHash.Bytes()
			if bkt.Get(key) != nil {
				continue
			}
			matchKey, err := anchorMatchKey(a)
			if err != nil {
				return err
			}
			enc, err := encodeAnchor(a)
			if err != nil {
				return err
			}
			if err := bkt.Put(key, enc); err != nil {
				return err
			}
			if err := timeIdx.Put(anchorTimeKey(a.BlockTime, a.InternalHash), bytesutil.Uint64ToBytesBigEndian(a.BlockNumber)); err != nil {
				return err
			}
			if err := matchIdx.Put(matchKey, key); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// BracketingAnchors returns the latest anchor with blockTime <= targetTime
// and the earliest anchor with blockTime > targetTime, projected down to
// (blockNumber, blockTime) pairs. Either side may be nil when the cache has
// nothing on it. Both directions are answered by one cursor seek on the
// time index plus a single step back.
func (s *Store) BracketingAnchors(ctx context.Context, targetTime uint64) (*types.AnchorRef, *types.AnchorRef, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.BracketingAnchors")
	defer span.End()
	var before, after *types.AnchorRef
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(anchorTimeIndexBucket).Cursor()
		k, v := c.Seek(bytesutil.Uint64ToBytesBigEndian(targetTime + 1))
		if k != nil {
			after = anchorRefFromIndex(k, v)
			k, v = c.Prev()
		} else {
			k, v = c.Last()
		}
		if k != nil {
			before = anchorRefFromIndex(k, v)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func anchorRefFromIndex(key, value []byte) *types.AnchorRef {
	return &types.AnchorRef{
		BlockNumber: bytesutil.BytesToUint64BigEndian(value),
		BlockTime:   bytesutil.BytesToUint64BigEndian(key[:8]),
	}
}

// MatchingAnchor returns the earliest stored anchor carrying the exact
// (from, assetRecipient, amount) tuple with blockTime inside
// [minTime, maxTime], or nil when the window holds no match. The match index
// orders anchors by tuple then blockTime, so the first key at or past
// minTime under the tuple prefix decides the query.
func (s *Store) MatchingAnchor(ctx context.Context, from, recipient common.Address, amount *big.Int, minTime, maxTime uint64) (*types.AnchorTx, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.MatchingAnchor")
	defer span.End()
	prefix, err := matchTuplePrefix(from, recipient, amount)
	if err != nil {
		return nil, err
	}
	var anchor *types.AnchorTx
	err = s.db.View(func(tx *bolt.Tx) error {
		seekKey := append(append(make([]byte, 0, len(prefix)+8), prefix...), bytesutil.Uint64ToBytesBigEndian(minTime)...)
		c := tx.Bucket(anchorMatchIndexBucket).Cursor()
		k, v := c.Seek(seekKey)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			return nil
		}
		if bytesutil.BytesToUint64BigEndian(k[len(prefix):len(prefix)+8]) > maxTime {
			return nil
		}
		enc := tx.Bucket(anchorsBucket).Get(v)
		if enc == nil {
			return errors.Errorf("match index references missing anchor %#x", v)
		}
		anchor, err = decodeAnchor(enc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return anchor, nil
}
