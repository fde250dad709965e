// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry metric instruments for the analytics pipeline.
// A nil *Metrics is a valid no-op receiver so the engine never has to check.
type Metrics struct {
	meter metric.Meter

	itemsEnqueued  metric.Int64Counter
	batchesSent    metric.Int64Counter
	itemsDelivered metric.Int64Counter
	itemsDropped   metric.Int64Counter

	queueDepth metric.Int64UpDownCounter

	flushDuration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		meter: otel.Meter("fluxtrack"),
	}

	var err error

	m.itemsEnqueued, err = m.meter.Int64Counter(
		"analytics.items.enqueued.total",
		metric.WithDescription("Total items accepted into the queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create itemsEnqueued counter: %w", err)
	}

	m.batchesSent, err = m.meter.Int64Counter(
		"analytics.batches.sent.total",
		metric.WithDescription("Total delivery attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batchesSent counter: %w", err)
	}

	m.itemsDelivered, err = m.meter.Int64Counter(
		"analytics.items.delivered.total",
		metric.WithDescription("Total items confirmed delivered"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create itemsDelivered counter: %w", err)
	}

	m.itemsDropped, err = m.meter.Int64Counter(
		"analytics.items.dropped.total",
		metric.WithDescription("Total items dropped, by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create itemsDropped counter: %w", err)
	}

	m.queueDepth, err = m.meter.Int64UpDownCounter(
		"analytics.queue.depth",
		metric.WithDescription("Current pending queue length"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queueDepth gauge: %w", err)
	}

	m.flushDuration, err = m.meter.Float64Histogram(
		"analytics.flush.duration",
		metric.WithDescription("Delivery attempt duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create flushDuration histogram: %w", err)
	}

	return m, nil
}

// ItemsEnqueued records items accepted into the queue.
func (m *Metrics) ItemsEnqueued(n int) {
	if m == nil {
		return
	}
	m.itemsEnqueued.Add(context.Background(), int64(n))
	m.queueDepth.Add(context.Background(), int64(n))
}

// BatchSent records one delivery attempt and its duration.
func (m *Metrics) BatchSent(d time.Duration, status string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.batchesSent.Add(context.Background(), 1, attrs)
	m.flushDuration.Record(context.Background(), d.Seconds(), attrs)
}

// ItemsDelivered records items confirmed delivered.
func (m *Metrics) ItemsDelivered(n int) {
	if m == nil {
		return
	}
	m.itemsDelivered.Add(context.Background(), int64(n))
	m.queueDepth.Add(context.Background(), int64(-n))
}

// ItemsDropped records items dropped with the given reason.
func (m *Metrics) ItemsDropped(n int, reason string) {
	if m == nil {
		return
	}
	m.itemsDropped.Add(context.Background(), int64(n),
		metric.WithAttributes(attribute.String("reason", reason)))
	m.queueDepth.Add(context.Background(), int64(-n))
}

// RateLimited records items rejected by the admission limiter. These never
// enter the queue, so queue depth is untouched.
func (m *Metrics) RateLimited(n int) {
	if m == nil {
		return
	}
	m.itemsDropped.Add(context.Background(), int64(n),
		metric.WithAttributes(attribute.String("reason", "rate_limited")))
}
