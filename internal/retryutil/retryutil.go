// Package retryutil implements the exponential backoff retry shape
// used for job result reporting and uplink shipping (spec.md §§4.4,
// 4.7); internal/supervisor keeps its own restart backoff with the same
// base/factor/cap. Grounded on the
// retry loop in the retrieval pack's
// Joemon24-distributed-ids/agent/retry package: a bounded attempt
// count, doubling backoff, logging each failed attempt. The pack
// version sleeps unconditionally; this one is context-aware so
// shutdown interrupts a pending backoff immediately.
package retryutil

import (
	"context"
	"time"
)

// Policy is an exponential backoff schedule: base, doubling each
// attempt, capped, for at most MaxAttempts tries.
type Policy struct {
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// JobReportPolicy is the backoff schedule fixed by spec.md §4.4:
// base 1s, factor 2, cap 60s, max 5 attempts. The uplink shipper uses
// this same policy; internal/supervisor's restartPolicy copies its
// base/factor/cap but is not a retryutil.Policy.
var JobReportPolicy = Policy{Base: time.Second, Factor: 2, Cap: 60 * time.Second, MaxAttempts: 5}

// Func is the operation retried by Do. A non-nil error is treated as a
// transient failure worth retrying.
type Func func(ctx context.Context) error

// OnAttemptFailed, if set, is called after each failed attempt before
// sleeping — used for logging.
type OnAttemptFailed func(attempt int, err error, sleep time.Duration)

// Do runs fn up to p.MaxAttempts times, sleeping with exponential
// backoff between attempts. It returns nil on first success, or the
// last error if every attempt failed. A cancelled ctx aborts
// immediately, returning ctx.Err().
func Do(ctx context.Context, p Policy, fn Func, onFailed OnAttemptFailed) error {
	backoff := p.Base
	var err error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		if onFailed != nil {
			onFailed(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * p.Factor)
		if backoff > p.Cap {
			backoff = p.Cap
		}
	}

	return err
}
