// Package backoff implements the process-wide rate-limit gate shared by every
// component performing outbound network calls. Any caller receiving a
// rate-limit response pushes a single monotone deadline forward; every other
// caller consults that deadline before its next call and sleeps it out.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d4mr/coredrain/config/params"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "backoff")

var backoffTriggersTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "coredrain_backoff_triggers_total",
	Help: "Count of rate-limit responses that pushed the shared backoff deadline forward.",
})

// Coordinator holds the shared deadline as a millisecond epoch. The deadline
// only ever moves forward.
type Coordinator struct {
	deadlineMs int64

	jitterLock sync.Mutex
	jitter     *rand.Rand
}

// NewCoordinator returns a coordinator with no deadline set.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		jitter: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Trigger pushes the shared deadline to max(current, now+retryAfter) and
// returns the effective deadline. Concurrent triggers race through a
// compare-and-swap so the deadline never moves earlier.
func (c *Coordinator) Trigger(retryAfter time.Duration) time.Time {
	target := time.Now().Add(retryAfter).UnixMilli()
	for {
		cur := atomic.LoadInt64(&c.deadlineMs)
		if cur >= target {
			return time.UnixMilli(cur)
		}
		if atomic.CompareAndSwapInt64(&c.deadlineMs, cur, target) {
			backoffTriggersTotal.Inc()
			log.WithFields(logrus.Fields{
				"retryAfter": retryAfter,
				"until":      time.UnixMilli(target),
			}).Warn("Rate limited, pausing outbound requests")
			return time.UnixMilli(target)
		}
	}
}

// Deadline returns the current shared deadline.
func (c *Coordinator) Deadline() time.Time {
	return time.UnixMilli(atomic.LoadInt64(&c.deadlineMs))
}

// Wait blocks until the shared deadline has passed, plus a random jitter of
// up to BackoffJitterMax so recovering callers do not stampede the upstream.
// Re-checks the deadline after sleeping in case another caller pushed it
// further. Returns the context error when cancelled mid-wait.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		remaining := time.Until(c.Deadline())
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining + c.randomJitter())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Coordinator) randomJitter() time.Duration {
	max := params.BridgeConfig().BackoffJitterMax
	if max <= 0 {
		return 0
	}
	c.jitterLock.Lock()
	defer c.jitterLock.Unlock()
	return time.Duration(c.jitter.Int63n(int64(max)))
}
