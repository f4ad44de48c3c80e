// Package finder locates the EVM transaction realizing a ledger transfer.
// Searches interpolate over a persistent cache of timestamp anchors that
// grows with every fetched block, so repeated searches near the same time
// window converge faster and eventually become pure cache hits.
package finder

import (
	"context"
	"math/big"
	"time"

	"github.com/d4mr/coredrain/db"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"
)

var log = logrus.WithField("prefix", "finder")

// backgroundStoreTimeout bounds the detached insert of fetched anchors.
const backgroundStoreTimeout = 30 * time.Second

// AnchorIndex is a thin façade over the anchor store: match-tuple lookups,
// time bracketing, and fire-and-forget persistence of fetched blocks.
type AnchorIndex struct {
	db db.Database
}

// NewAnchorIndex returns an index backed by the given database.
func NewAnchorIndex(database db.Database) *AnchorIndex {
	return &AnchorIndex{db: database}
}

// Matching returns the earliest cached anchor carrying the match tuple
// within [minTime, maxTime], or nil when none is cached.
func (idx *AnchorIndex) Matching(ctx context.Context, from, recipient common.Address, amount *big.Int, minTime, maxTime uint64) (*types.AnchorTx, error) {
	ctx, span := trace.StartSpan(ctx, "finder.AnchorIndex.Matching")
	defer span.End()
	return idx.db.MatchingAnchor(ctx, from, recipient, amount, minTime, maxTime)
}

// Bracketing returns the cached anchors closest to targetTime from below
// (inclusive) and above (exclusive). Either side may be nil.
func (idx *AnchorIndex) Bracketing(ctx context.Context, targetTime uint64) (before, after *types.AnchorRef, err error) {
	ctx, span := trace.StartSpan(ctx, "finder.AnchorIndex.Bracketing")
	defer span.End()
	return idx.db.BracketingAnchors(ctx, targetTime)
}

// StoreInBackground persists every system transaction of the fetched blocks
// without making the caller wait. A lost insert only costs a later search a
// cache miss, so failures are logged and dropped.
func (idx *AnchorIndex) StoreInBackground(blocks []*types.BlockData) {
	anchors := make([]*types.AnchorTx, 0, len(blocks))
	for _, b := range blocks {
		for _, tx := range b.SystemTxs {
			anchors = append(anchors, tx.AnchorTx(b))
		}
	}
	if len(anchors) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundStoreTimeout)
		defer cancel()
		inserted, err := idx.db.InsertAnchorTxs(ctx, anchors)
		if err != nil {
			log.WithError(err).Warn("Could not persist fetched anchors")
			return
		}
		anchorsStoredTotal.Add(float64(inserted))
	}()
}
