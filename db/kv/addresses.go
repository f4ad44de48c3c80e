package kv

import (
	"context"

	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"go.opencensus.io/trace"
)

// WatchedAddress retrieval by trading-ledger address. Returns nil when the
// address was never configured.
func (s *Store) WatchedAddress(ctx context.Context, addr common.Address) (*types.WatchedAddress, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.WatchedAddress")
	defer span.End()
	var watched *types.WatchedAddress
	err := s.db.View(func(tx *bolt.Tx) error {
		enc := tx.Bucket(addressesBucket).Get(addr.Bytes())
		if enc == nil {
			return nil
		}
		var err error
		watched, err = decodeWatchedAddress(enc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return watched, nil
}

// WatchedAddresses returns every address ever configured, active or not,
// ordered by address bytes.
func (s *Store) WatchedAddresses(ctx context.Context) ([]*types.WatchedAddress, error) {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.WatchedAddresses")
	defer span.End()
	var addrs []*types.WatchedAddress
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(addressesBucket).ForEach(func(_, v []byte) error {
			w, err := decodeWatchedAddress(v)
			if err != nil {
				return err
			}
			addrs = append(addrs, w)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// SaveWatchedAddress upserts an address. The indexing cursor of an address
// that already exists is preserved, so re-declaring an address in config
// never rewinds its history.
func (s *Store) SaveWatchedAddress(ctx context.Context, watched *types.WatchedAddress) error {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.SaveWatchedAddress")
	defer span.End()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(addressesBucket)
		key := watched.Address.Bytes()
		row := *watched
		if enc := bkt.Get(key); enc != nil {
			existing, err := decodeWatchedAddress(enc)
			if err != nil {
				return err
			}
			row.LastIndexedTime = existing.LastIndexedTime
		}
		enc, err := encodeWatchedAddress(&row)
		if err != nil {
			return err
		}
		return bkt.Put(key, enc)
	})
}

// UpdateAddressCursor advances the high-water mark of indexed ledger time
// for an address. Older or equal values are ignored so the cursor only ever
// moves forward, whichever order racing updates land in.
func (s *Store) UpdateAddressCursor(ctx context.Context, addr common.Address, lastIndexedTime uint64) error {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.UpdateAddressCursor")
	defer span.End()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(addressesBucket)
		key := addr.Bytes()
		enc := bkt.Get(key)
		if enc == nil {
			return errors.Wrapf(ErrNotFound, "watched address %#x", addr)
		}
		watched, err := decodeWatchedAddress(enc)
		if err != nil {
			return err
		}
		if lastIndexedTime <= watched.LastIndexedTime {
			return nil
		}
		watched.LastIndexedTime = lastIndexedTime
		out, err := encodeWatchedAddress(watched)
		if err != nil {
			return err
		}
		return bkt.Put(key, out)
	})
}

// SetAddressActive flips whether the indexer fleet should run a worker for
// the address.
func (s *Store) SetAddressActive(ctx context.Context, addr common.Address, active bool) error {
	ctx, span := trace.StartSpan(ctx, "BridgeDB.SetAddressActive")
	defer span.End()
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(addressesBucket)
		key := addr.Bytes()
		enc := bkt.Get(key)
		if enc == nil {
			return errors.Wrapf(ErrNotFound, "watched address %#x", addr)
		}
		watched, err := decodeWatchedAddress(enc)
		if err != nil {
			return err
		}
		if watched.IsActive == active {
			return nil
		}
		watched.IsActive = active
		out, err := encodeWatchedAddress(watched)
		if err != nil {
			return err
		}
		return bkt.Put(key, out)
	})
}
