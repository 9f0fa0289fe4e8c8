// Package backoff implements the jittered exponential backoff policy used
// by the Account Fetcher and Transaction Sender (spec §4.1, §4.10); the
// Subscription Manager's reconnect loop does not use it and waits a fixed
// delay between attempts instead. Grounded on original_source/src/utils/retry.rs's
// RetryPolicy, translated from backoff::ExponentialBackoff to a small
// stdlib-only helper since the Rust crate has no direct Go-ecosystem
// equivalent in the retrieval pack.
package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures exponential backoff with uniform jitter.
type Policy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction, e.g. 0.25 for +-25%
}

// Default matches the Account Fetcher's contract in spec §4.1: ~200ms
// initial, ~30s cap, +-25% jitter, 3 retries.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		Initial:    200 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

// Sender matches the Transaction Sender's contract in spec §4.10: 100ms,
// 200ms, 400ms, ... capped at 10s per delay.
func Sender() Policy {
	return Policy{
		MaxRetries: 5,
		Initial:    100 * time.Millisecond,
		Max:        10 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

// Delay returns the backoff delay before retry attempt n (0-indexed: the
// delay before the first retry is Delay(0)), jittered by +-Jitter.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if cap := float64(p.Max); d > cap {
		d = cap
	}
	if p.Jitter > 0 {
		delta := d * p.Jitter
		d += (rand.Float64()*2 - 1) * delta
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// Retry runs op up to MaxRetries+1 times, sleeping Delay(attempt) between
// attempts, and returns the last error if every attempt fails. Callers that
// need context cancellation check ctx.Err() inside op and return it: when op
// returns context.Canceled or context.DeadlineExceeded, Retry stops at once
// and returns that error without further attempts.
func (p Policy) Retry(op func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.Delay(attempt - 1))
		}
		if err := op(attempt); err != nil {
			lastErr = err
			if err == context.Canceled || err == context.DeadlineExceeded {
				return err
			}
			continue
		}
		return nil
	}
	return lastErr
}
