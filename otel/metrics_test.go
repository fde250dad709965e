// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	// Recording against the default (no-op) provider must not panic.
	m.ItemsEnqueued(3)
	m.BatchSent(50*time.Millisecond, "delivered")
	m.ItemsDelivered(2)
	m.ItemsDropped(1, "permanent")
	m.RateLimited(1)
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ItemsEnqueued(1)
		m.BatchSent(time.Second, "transient")
		m.ItemsDelivered(1)
		m.ItemsDropped(1, "rate_limited")
		m.RateLimited(1)
	})
}
