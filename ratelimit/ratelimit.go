// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"golang.org/x/time/rate"
)

// Limiter bounds the rate at which items are admitted into the queue,
// protecting local storage from a runaway caller. Rejected items are dropped
// with a reported outcome, never queued.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting r items per second with the given burst.
func New(r float64, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}
}

// Allow reports whether one more item may be admitted now. A nil limiter
// admits everything.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
