//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2025 Tencent.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff is the closed set of backoff strategies from the data model.
type Backoff string

// Backoff values.
const (
	BackoffExponential         Backoff = "exponential"
	BackoffLinear              Backoff = "linear"
	BackoffFixed               Backoff = "fixed"
	BackoffFullJitter          Backoff = "full-jitter"
	BackoffFixedJitter         Backoff = "fixed-jitter"
	BackoffDecorrelatedJitter Backoff = "decorrelated-jitter"
)

// delayState carries the mutable bit decorrelated-jitter needs across
// calls: the previous computed delay, seeded from base*2^attempt the
// first time it is used for a given retry sequence.
type delayState struct {
	prev time.Duration
}

// computeDelay implements the six supported backoff formulas.
// attempt is 1-indexed (the first retry is attempt 1). rng defaults to
// math/rand's package-level source when nil; tests inject a seeded one for
// determinism.
func computeDelay(strategy Backoff, attempt int, base, max time.Duration, st *delayState, rng *rand.Rand) time.Duration {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	switch strategy {
	case BackoffLinear:
		d := base * time.Duration(attempt+1)
		return clamp(d, max)
	case BackoffFixed:
		return base
	case BackoffFullJitter:
		d := clamp(expDelay(base, attempt), max)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	case BackoffFixedJitter:
		if base <= 0 {
			return 0
		}
		return base + time.Duration(rng.Int63n(int64(base)+1))
	case BackoffDecorrelatedJitter:
		prev := st.prev
		if prev <= 0 {
			prev = expDelay(base, attempt)
		}
		lo := int64(base)
		hi := int64(prev) * 3
		if hi <= lo {
			st.prev = clamp(time.Duration(lo), max)
			return st.prev
		}
		d := lo + rng.Int63n(hi-lo+1)
		result := clamp(time.Duration(d), max)
		st.prev = result
		return result
	case BackoffExponential:
		fallthrough
	default:
		return exponentialViaLibrary(base, max, attempt)
	}
}

// exponentialViaLibrary computes min(base*2^attempt, max) using
// cenkalti/backoff's ExponentialBackOff with randomization disabled, so
// the result matches the deterministic doubling formula exactly
// while still exercising the library for the doubling/clamping logic
// rather than hand-rolling it. Only the exponential strategy uses it: the
// other five formulas (linear, fixed, the three jitter variants) have no
// equivalent in the library's API and are implemented directly above.
func exponentialViaLibrary(base, max time.Duration, attempt int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	if max > 0 {
		eb.MaxInterval = max
	}
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = eb.NextBackOff()
	}
	return clamp(d, max)
}

func expDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}

func clamp(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}

// Sleep waits for d or until ctx is cancelled, returning ctx.Err() in the
// latter case. This is the retry manager's suspension point (2) from the
// concurrency model.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
