// Package evmchain retrieves blocks from the EVM chain and reduces their
// system transactions to the normalized form the correlation engine matches
// against. Two providers implement the same contract: a JSON-RPC fetcher and
// a requester-pays object-store fetcher over archived block records.
package evmchain

import (
	"context"
	"fmt"
	"math/big"
	"math/rand"
	"net"
	"net/http"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/d4mr/coredrain/config/params"
	"github.com/d4mr/coredrain/types"
	"github.com/ethereum/go-ethereum/common"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "evmchain")

// BlockFetcher retrieves blocks with their system transactions normalized.
// Implementations retry transient failures internally with a jittered
// exponential backoff; an error that escapes is either permanent or an
// exhausted retry budget. Returned blocks are sorted by number.
type BlockFetcher interface {
	Name() string
	FetchBlocks(ctx context.Context, blockNumbers []uint64) ([]*types.BlockData, error)
}

// rawTx is a system transaction as the providers deliver it, before
// normalization: the legacy transaction fields plus the receipt logs needed
// to attribute token transfers.
type rawTx struct {
	From     common.Address
	To       *common.Address
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	Value    *big.Int
	Input    []byte
	Logs     []rawLog
}

type rawLog struct {
	Address common.Address
	Topics  []common.Hash
}

// rpcRateLimitCode is the application-level rate limit error some providers
// answer instead of an HTTP 429.
const rpcRateLimitCode = -32005

// FetchError marks a transient provider failure that survived the retry
// budget. Transfers left pending behind it stay pending and are picked up
// again on a later refill.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch failed: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// retryTransient runs fn up to the configured attempt budget, sleeping a
// jittered exponential backoff between attempts. Permanent failures and
// context cancellation stop the retries immediately.
func retryTransient(ctx context.Context, provider string, fn func() error) error {
	cfg := params.BridgeConfig()
	var err error
	for attempt := 0; attempt < cfg.FetchMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(cfg.FetchRetryBase, attempt)
			fetchRetriesTotal.WithLabelValues(provider).Inc()
			log.WithError(err).WithFields(logrus.Fields{
				"provider": provider,
				"attempt":  attempt,
				"delay":    delay,
			}).Debug("Retrying block fetch")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !transientError(err) {
			return err
		}
	}
	return &FetchError{Provider: provider, Err: err}
}

// transientError reports whether err is worth retrying: timeouts, connection
// drops, rate limits, and 5xx responses. Protocol violations and application
// errors are permanent.
func transientError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gethErr gethrpc.HTTPError
	if errors.As(err, &gethErr) {
		return gethErr.StatusCode == http.StatusTooManyRequests || gethErr.StatusCode >= 500
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() == rpcRateLimitCode
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusTooManyRequests || respErr.HTTPStatusCode() >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryDelay doubles the base per attempt and adds up to half of it again as
// jitter, so synchronized workers fan out.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
