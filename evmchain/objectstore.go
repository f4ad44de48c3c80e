package evmchain

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

// ObjectStoreFetcher retrieves blocks from the requester-pays block archive.
// It is the paid, fast provider: every requested block is fetched
// concurrently within a single call.
type ObjectStoreFetcher struct {
	client      *s3.Client
	bucket      string
	coordinator *backoff.Coordinator
}

// NewObjectStoreFetcher wires an S3 client against the named bucket. The
// caller owns client construction so credentials and endpoint resolution
// stay in one place.
func NewObjectStoreFetcher(client *s3.Client, bucket string, coordinator *backoff.Coordinator) *ObjectStoreFetcher {
	return &ObjectStoreFetcher{client: client, bucket: bucket, coordinator: coordinator}
}

// Name implements BlockFetcher.
func (f *ObjectStoreFetcher) Name() string {
	return "object-store"
}

// blockObjectKey derives the deterministic archive path of a block:
// <millions>/<thousands>/<block><ext> with floored prefixes. The extension
// names the encoding, msgpack records inside an LZ4 frame by default.
func blockObjectKey(blockNumber uint64) string {
	return fmt.Sprintf("%d/%d/%d%s", blockNumber/1_000_000, blockNumber/1_000, blockNumber, params.BridgeConfig().ObjectStoreExt)
}

// FetchBlocks implements BlockFetcher.
func (f *ObjectStoreFetcher) FetchBlocks(ctx context.Context, blockNumbers []uint64) ([]*types.BlockData, error) {
	if len(blockNumbers) == 0 {
		return nil, nil
	}
	blocks := make([]*types.BlockData, len(blockNumbers))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range blockNumbers {
		i, n := i, n
		g.Go(func() error {
			block, err := f.fetchBlock(gctx, n)
			if err != nil {
				return err
			}
			blocks[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number < blocks[j].Number })
	blocksFetchedTotal.WithLabelValues(f.Name()).Add(float64(len(blocks)))
	return blocks, nil
}

func (f *ObjectStoreFetcher) fetchBlock(ctx context.Context, blockNumber uint64) (*types.BlockData, error) {
	key := blockObjectKey(blockNumber)
	var payload []byte
	err := retryTransient(ctx, f.Name(), func() error {
		if err := f.coordinator.Wait(ctx); err != nil {
			return err
		}
		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket:       aws.String(f.bucket),
			Key:          aws.String(key),
			RequestPayer: s3types.RequestPayerRequester,
		})
		if err != nil {
			return f.noteRateLimit(errors.Wrapf(err, "could not get block object %s", key))
		}
		defer func() {
			if err := out.Body.Close(); err != nil {
				log.WithError(err).Debug("Could not close block object body")
			}
		}()
		payload, err = io.ReadAll(lz4.NewReader(out.Body))
		if err != nil {
			return errors.Wrapf(err, "could not decompress block object %s", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeBlockRecord(payload, blockNumber)
}

// noteRateLimit feeds throttling responses into the shared backoff
// coordinator before handing the error back to the retry loop.
func (f *ObjectStoreFetcher) noteRateLimit(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "SlowDown" {
		f.coordinator.Trigger(params.BridgeConfig().DefaultRetryAfter)
	}
	return err
}

// blockRecord is the msgpack layout of an archived block object. Hashes and
// addresses travel as raw bytes, amounts as big-endian byte strings.
type blockRecord struct {
	Number    uint64     `msgpack:"number"`
	Hash      []byte     `msgpack:"hash"`
	Timestamp uint64     `msgpack:"timestamp"` // seconds
	SystemTxs []recordTx `msgpack:"systemTxs"`
}

type recordTx struct {
	From     []byte      `msgpack:"from"`
	To       []byte      `msgpack:"to"` // empty for contract creation
	Nonce    uint64      `msgpack:"nonce"`
	GasPrice []byte      `msgpack:"gasPrice"`
	Gas      uint64      `msgpack:"gas"`
	Value    []byte      `msgpack:"value"`
	Input    []byte      `msgpack:"input"`
	Logs     []recordLog `msgpack:"logs"`
}

type recordLog struct {
	Address []byte   `msgpack:"address"`
	Topics  [][]byte `msgpack:"topics"`
}

func (tx *recordTx) raw() *rawTx {
	raw := &rawTx{
		From:     common.BytesToAddress(tx.From),
		Nonce:    tx.Nonce,
		GasPrice: new(big.Int).SetBytes(tx.GasPrice),
		Gas:      tx.Gas,
		Value:    new(big.Int).SetBytes(tx.Value),
		Input:    tx.Input,
	}
	if len(tx.To) > 0 {
		to := common.BytesToAddress(tx.To)
		raw.To = &to
	}
	for _, lg := range tx.Logs {
		topics := make([]common.Hash, 0, len(lg.Topics))
		for _, topic := range lg.Topics {
			topics = append(topics, common.BytesToHash(topic))
		}
		raw.Logs = append(raw.Logs, rawLog{Address: common.BytesToAddress(lg.Address), Topics: topics})
	}
	return raw
}

func decodeBlockRecord(payload []byte, blockNumber uint64) (*types.BlockData, error) {
	record := &blockRecord{}
	if err := msgpack.Unmarshal(payload, record); err != nil {
		return nil, errors.Wrapf(err, "could not decode block record %d", blockNumber)
	}
	if record.Number != blockNumber {
		return nil, errors.Errorf("block record carries number %d, expected %d", record.Number, blockNumber)
	}
	raws := make([]*rawTx, 0, len(record.SystemTxs))
	for i := range record.SystemTxs {
		raws = append(raws, record.SystemTxs[i].raw())
	}
	return &types.BlockData{
		Number:    record.Number,
		Hash:      common.BytesToHash(record.Hash),
		Time:      record.Timestamp * 1000,
		SystemTxs: extractSystemTxs(raws, params.BridgeConfig().ChainID),
	}, nil
}
