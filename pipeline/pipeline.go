// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pipeline owns the delivery engine: it accepts serialized analytics
// records from the payload-shaping layer, buffers them in the durable queue
// and drives the background flush loop that hands batches to the transport.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/otel"
	"github.com/absmach/fluxtrack/queue"
	"github.com/absmach/fluxtrack/ratelimit"
	"github.com/absmach/fluxtrack/retry"
	"github.com/absmach/fluxtrack/transport"
)

// Common errors.
var (
	ErrNotStarted = errors.New("engine not started")
	ErrStopped    = errors.New("engine stopped")
)

// Delivery is an asynchronous outcome notification. Delivery errors never
// surface to Submit callers; observers consume these instead.
type Delivery struct {
	Kind     core.Kind
	ItemIDs  []string
	Attempts int
	Outcome  core.Outcome
}

// Config holds engine configuration.
type Config struct {
	// BatchMaxSize caps items per delivery attempt.
	BatchMaxSize int
	// FlushInterval is the timer-driven flush period.
	FlushInterval time.Duration
	// FlushThreshold triggers a flush once the queue reaches this length.
	// Zero means BatchMaxSize.
	FlushThreshold int
	// RequestTimeout bounds a single delivery attempt.
	RequestTimeout time.Duration
	// ShutdownTimeout bounds the final flush during Shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		BatchMaxSize:    50,
		FlushInterval:   10 * time.Second,
		RequestTimeout:  10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Engine is the batching, persistence and delivery engine. A single
// background goroutine drives all network I/O; application-facing calls
// block only on the bounded durable-write step.
type Engine struct {
	cfg       Config
	queue     *queue.EventQueue
	policy    retry.Policy
	transport transport.Transport
	limiter   *ratelimit.Limiter
	metrics   *otel.Metrics
	logger    *slog.Logger

	// flushCh is buffered with capacity 1: a trigger arriving while a flush
	// is in progress parks here as the "flush requested again" flag, so
	// concurrent triggers coalesce and at most one delivery attempt is ever
	// in flight.
	flushCh    chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
	deliveries chan Delivery

	mu      sync.Mutex
	waiters []chan struct{}
	started bool
	stopped bool
}

// New creates an engine over the given queue, transport and retry policy.
func New(cfg Config, q *queue.EventQueue, tr transport.Transport, policy retry.Policy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 50
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = cfg.BatchMaxSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	return &Engine{
		cfg:        cfg,
		queue:      q,
		policy:     policy,
		transport:  tr,
		logger:     logger,
		flushCh:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		deliveries: make(chan Delivery, 128),
	}
}

// SetLimiter installs an admission rate limiter. Must be called before Start.
func (e *Engine) SetLimiter(l *ratelimit.Limiter) {
	e.limiter = l
}

// SetMetrics installs metric instruments. Must be called before Start.
func (e *Engine) SetMetrics(m *otel.Metrics) {
	e.metrics = m
}

// Start reloads persisted items into the queue and starts the flush loop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.queue.Load(); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	go e.run()

	e.logger.Info("delivery engine started",
		slog.Int("pending", e.queue.Len()),
		slog.Int("batch_max_size", e.cfg.BatchMaxSize),
		slog.Duration("flush_interval", e.cfg.FlushInterval))
	return nil
}

// Submit accepts a serialized record from the payload-shaping layer. It
// persists the item before returning; a persistence failure is reported to
// the caller while the item is still held in memory best-effort. Submit
// never blocks on network I/O.
func (e *Engine) Submit(kind core.Kind, payload []byte) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown item kind %q", kind)
	}

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if !e.limiter.Allow() {
		e.metrics.RateLimited(1)
		e.logger.Warn("item dropped by admission limiter", slog.String("kind", string(kind)))
		return nil
	}

	item := core.NewQueueItem(kind, payload)
	err := e.queue.Enqueue(item)
	e.metrics.ItemsEnqueued(1)

	if e.queue.Len() >= e.cfg.FlushThreshold {
		e.Flush()
	}
	return err
}

// Flush requests a flush without waiting for it. Safe from any goroutine;
// triggers arriving mid-flush coalesce into a single rerun.
func (e *Engine) Flush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

// FlushWait requests a flush and blocks until the flush cycle completes or
// ctx expires. On cancellation the in-flight delivery attempt is not
// aborted; the background loop still owns and resolves it, and the caller
// learns only that the outcome is unknown via ctx.Err.
func (e *Engine) FlushWait(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	done := make(chan struct{})
	e.waiters = append(e.waiters, done)
	e.mu.Unlock()

	e.Flush()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcomes returns the delivery notification channel. Notifications are
// dropped, never blocked on, when no one is reading.
func (e *Engine) Outcomes() <-chan Delivery {
	return e.deliveries
}

// Shutdown stops the engine after one final bounded flush attempt. Items
// that remain undelivered stay durably persisted for the next process start.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)

	select {
	case <-e.doneCh:
		e.logger.Info("delivery engine stopped", slog.Int("pending", e.queue.Len()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}
