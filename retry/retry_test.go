// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_DelayGrowth(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 10 * time.Second, Multiplier: 2.0, Ceiling: 5}

	// Jitter is ±10%, so compare against the pre-jitter bounds.
	for attempt, want := range map[int]time.Duration{
		0: time.Second,
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	} {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(float64(want)*0.9), "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(want)*1.1), "attempt %d", attempt)
	}
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 10 * time.Second, Multiplier: 2.0, Ceiling: 5}

	// The cap is a hard bound, jitter included.
	for _, attempt := range []int{4, 5, 10, 100} {
		for i := 0; i < 1000; i++ {
			d := p.Delay(attempt)
			if d > p.Cap {
				t.Fatalf("Delay(%d) = %v exceeds cap %v", attempt, d, p.Cap)
			}
			if d < 9*time.Second {
				t.Fatalf("Delay(%d) = %v below jitter floor", attempt, d)
			}
		}
	}
}

func TestPolicy_DelayNegativeAttempt(t *testing.T) {
	p := Default()
	d := p.Delay(-3)
	assert.GreaterOrEqual(t, d, time.Duration(float64(time.Second)*0.9))
	assert.LessOrEqual(t, d, time.Duration(float64(time.Second)*1.1))
}

func TestPolicy_Retryable(t *testing.T) {
	p := Policy{Base: time.Second, Cap: 10 * time.Second, Multiplier: 2.0, Ceiling: 5}

	assert.True(t, p.Retryable(0))
	assert.True(t, p.Retryable(5))
	assert.False(t, p.Retryable(6))
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, time.Second, p.Base)
	assert.Equal(t, 10*time.Second, p.Cap)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 5, p.Ceiling)
}
