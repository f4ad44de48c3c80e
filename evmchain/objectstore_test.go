package evmchain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/d4mr/coredrain/backoff"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/testing/assert"
	"github.com/d4mr/coredrain/testing/require"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const testBucket = "evm-blocks"

func TestBlockObjectKey(t *testing.T) {
	tests := []struct {
		block uint64
		want  string
	}{
		{999, "0/0/999.rmp.lz4"},
		{1234, "0/1/1234.rmp.lz4"},
		{1234567, "1/1234/1234567.rmp.lz4"},
		{1000000, "1/1000/1000000.rmp.lz4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, blockObjectKey(tt.block))
	}
}

func nativeRecordTx(value uint64, to common.Address) recordTx {
	return recordTx{
		From:  common.HexToAddress("0x2222222222222222222222222222222222222222").Bytes(),
		To:    to.Bytes(),
		Gas:   21000,
		Value: new(big.Int).SetUint64(value).Bytes(),
	}
}

func erc20RecordTx(token, sysAddr, to common.Address, amount uint64) recordTx {
	return recordTx{
		From:  sysAddr.Bytes(),
		To:    token.Bytes(),
		Gas:   60000,
		Input: transferCallData(to, new(big.Int).SetUint64(amount)),
		Logs: []recordLog{{
			Address: token.Bytes(),
			Topics: [][]byte{
				erc20TransferTopic.Bytes(),
				common.LeftPadBytes(sysAddr.Bytes(), 32),
				common.LeftPadBytes(to.Bytes(), 32),
			},
		}},
	}
}

func testBlockRecord(n uint64, txs ...recordTx) *blockRecord {
	return &blockRecord{
		Number:    n,
		Hash:      testBlockHash(n).Bytes(),
		Timestamp: testBlockTime(n),
		SystemTxs: txs,
	}
}

func encodeBlockObject(t testing.TB, record *blockRecord) []byte {
	raw, err := msgpack.Marshal(record)
	require.NoError(t, err)
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// fakeObjectStore serves archived block objects the way a requester-pays
// bucket would, and records what was asked of it.
type fakeObjectStore struct {
	t       testing.TB
	objects map[string][]byte

	mu         sync.Mutex
	gets       int
	failures   int
	failBody   string
	failStatus int
}

func (s *fakeObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(s.t, "requester", r.Header.Get("x-amz-request-payer"), "Object reads must declare requester pays")
	s.mu.Lock()
	s.gets++
	if s.failures > 0 {
		s.failures--
		status, body := s.failStatus, s.failBody
		s.mu.Unlock()
		w.WriteHeader(status)
		fmt.Fprint(w, body)
		return
	}
	s.mu.Unlock()

	obj, ok := s.objects[r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
		return
	}
	_, _ = w.Write(obj)
}

func (s *fakeObjectStore) put(block uint64, record *blockRecord) {
	s.objects[fmt.Sprintf("/%s/%s", testBucket, blockObjectKey(block))] = encodeBlockObject(s.t, record)
}

func newTestObjectStoreFetcher(t *testing.T, store *fakeObjectStore) (*ObjectStoreFetcher, *backoff.Coordinator) {
	srv := httptest.NewServer(store)
	t.Cleanup(srv.Close)

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		o.UsePathStyle = true
		o.Retryer = aws.NopRetryer{}
	})
	coordinator := backoff.NewCoordinator()
	return NewObjectStoreFetcher(client, testBucket, coordinator), coordinator
}

func TestObjectStoreFetcher_FetchBlocks(t *testing.T) {
	user := addr(0xaa)
	token := addr(0x10)
	sysAddr := common.HexToAddress("0x20000000000000000000000000000000000000dd")
	store := &fakeObjectStore{t: t, objects: map[string][]byte{}}
	store.put(1234567, testBlockRecord(1234567, nativeRecordTx(500, user)))
	store.put(1234568, testBlockRecord(1234568, erc20RecordTx(token, sysAddr, user, 777)))
	fetcher, _ := newTestObjectStoreFetcher(t, store)

	blocks, err := fetcher.FetchBlocks(context.Background(), []uint64{1234568, 1234567})
	require.NoError(t, err)
	require.Equal(t, 2, len(blocks))

	assert.Equal(t, uint64(1234567), blocks[0].Number, "Blocks come back sorted by number")
	assert.Equal(t, testBlockHash(1234567), blocks[0].Hash)
	assert.Equal(t, testBlockTime(1234567)*1000, blocks[0].Time)
	require.Equal(t, 1, len(blocks[0].SystemTxs))
	assert.Equal(t, "500", blocks[0].SystemTxs[0].Amount.String())

	require.Equal(t, 1, len(blocks[1].SystemTxs))
	tx := blocks[1].SystemTxs[0]
	assert.Equal(t, sysAddr, tx.From)
	assert.Equal(t, user, tx.AssetRecipient)
	assert.Equal(t, "777", tx.Amount.String())
	require.NotNil(t, tx.ContractAddress)
	assert.Equal(t, token, *tx.ContractAddress)
}

func TestObjectStoreFetcher_RetriesTransientFailures(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.FetchRetryBase = time.Millisecond
	params.OverrideBridgeConfig(cfg)

	store := &fakeObjectStore{
		t:          t,
		objects:    map[string][]byte{},
		failures:   1,
		failStatus: http.StatusInternalServerError,
		failBody:   `<?xml version="1.0"?><Error><Code>InternalError</Code><Message>boom</Message></Error>`,
	}
	store.put(42, testBlockRecord(42))
	fetcher, _ := newTestObjectStoreFetcher(t, store)

	blocks, err := fetcher.FetchBlocks(context.Background(), []uint64{42})
	require.NoError(t, err)
	require.Equal(t, 1, len(blocks))
	assert.Equal(t, uint64(42), blocks[0].Number)
}

func TestObjectStoreFetcher_SlowDownTriggersSharedBackoff(t *testing.T) {
	params.SetupTestConfigCleanup(t)
	cfg := params.BridgeConfig().Copy()
	cfg.FetchRetryBase = time.Millisecond
	cfg.FetchMaxAttempts = 1
	params.OverrideBridgeConfig(cfg)

	store := &fakeObjectStore{
		t:          t,
		objects:    map[string][]byte{},
		failures:   1,
		failStatus: http.StatusServiceUnavailable,
		failBody:   `<?xml version="1.0"?><Error><Code>SlowDown</Code><Message>Reduce your request rate.</Message></Error>`,
	}
	fetcher, coordinator := newTestObjectStoreFetcher(t, store)

	_, err := fetcher.FetchBlocks(context.Background(), []uint64{42})
	require.NotNil(t, err)
	assert.Equal(t, true, coordinator.Deadline().After(time.Now()), "A SlowDown must arm the shared backoff")
}

func TestDecodeBlockRecord_NumberMismatch(t *testing.T) {
	payload, err := msgpack.Marshal(testBlockRecord(7))
	require.NoError(t, err)
	_, err = decodeBlockRecord(payload, 8)
	require.ErrorContains(t, "carries number 7, expected 8", err)
}
