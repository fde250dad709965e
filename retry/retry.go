// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"math/rand"
	"time"
)

// Policy computes backoff delays and retry eligibility for failed batches.
// Delays grow exponentially from Base by Multiplier, capped at Cap, with
// ±10% jitter. A batch whose attempt count exceeds Ceiling is no longer
// retryable and is dead-lettered regardless of the underlying error.
type Policy struct {
	Base       time.Duration
	Cap        time.Duration
	Multiplier float64
	Ceiling    int
}

// Default returns the default retry policy: 1s base, 10s cap, doubling,
// ceiling of 5 attempts.
func Default() Policy {
	return Policy{
		Base:       time.Second,
		Cap:        10 * time.Second,
		Multiplier: 2.0,
		Ceiling:    5,
	}
}

// Delay returns the backoff delay before the next attempt. The pre-jitter
// delay is monotonically non-decreasing in attempt; the returned delay never
// exceeds Cap, jitter included.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Cap) {
			d = float64(p.Cap)
			break
		}
	}
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}

	// ±10% jitter so clients recovering together don't flush in lockstep.
	// Cap is a hard bound, so at the cap the jitter only pulls downward.
	d += d * 0.1 * (2*rand.Float64() - 1)
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}

// Retryable reports whether a batch with the given attempt count may be
// retried.
func (p Policy) Retryable(attempt int) bool {
	return attempt <= p.Ceiling
}
