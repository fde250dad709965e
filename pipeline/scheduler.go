// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/fluxtrack/core"
)

// run is the flush loop: a single goroutine alternating between idle and
// flushing. Timer ticks, threshold crossings and explicit Flush calls all
// funnel through the same coalescing trigger channel.
func (e *Engine) run() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.flushCh:
		case <-e.stopCh:
			e.finalFlush()
			return
		}

		for {
			backoff := e.flushCycle()
			e.notifyWaiters()
			if backoff <= 0 {
				break
			}

			e.logger.Warn("delivery backing off", slog.Duration("delay", backoff))
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-e.stopCh:
				timer.Stop()
				e.finalFlush()
				return
			}
		}
	}
}

// flushCycle drains and sends batches until the queue is empty or a
// transient failure asks for backoff. It returns the backoff delay, or zero
// when the queue was fully drained.
func (e *Engine) flushCycle() time.Duration {
	for {
		batch := e.queue.DrainBatch(e.cfg.BatchMaxSize)
		if len(batch) == 0 {
			return 0
		}

		outcome := e.send(context.Background(), batch)

		switch outcome.Status {
		case core.Delivered:
			e.commit(batch, "delivered")
			e.notify(batch, outcome)

		case core.Transient:
			attempts := batch.MaxAttempts() + 1
			if !e.policy.Retryable(attempts) {
				e.deadLetter(batch, core.OutcomePermanent(
					fmt.Errorf("retry ceiling exceeded after %d attempts: %w", attempts, outcome.Err)))
				continue
			}

			ids := batch.IDs()
			e.queue.Requeue(batch)
			e.notify(batch, outcome)

			delay := e.policy.Delay(attempts)
			if ra := time.Duration(outcome.RetryAfterSeconds) * time.Second; ra > delay {
				delay = ra
			}
			e.logger.Warn("delivery attempt failed, will retry",
				slog.String("kind", string(batch.Kind())),
				slog.Int("items", len(ids)),
				slog.Int("attempts", attempts),
				slog.Duration("retry_after", delay),
				slog.String("error", outcome.Err.Error()))
			return delay

		case core.Permanent:
			e.deadLetter(batch, outcome)
		}
	}
}

// send performs one bounded delivery attempt and records its metrics.
func (e *Engine) send(ctx context.Context, batch core.Batch) core.Outcome {
	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	outcome := e.transport.Send(sendCtx, batch)
	e.metrics.BatchSent(time.Since(start), outcome.Status.String())
	return outcome
}

// commit removes a delivered batch from durable storage.
func (e *Engine) commit(batch core.Batch, reason string) {
	if err := e.queue.Commit(batch.IDs()); err != nil {
		// The items were delivered; at worst they are re-sent after a crash.
		// At-least-once, so log and move on.
		e.logger.Error("failed to commit batch",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
	}
	e.metrics.ItemsDelivered(len(batch))
}

// deadLetter drops a permanently failed batch: removed from storage, counted
// and reported, never silently lost.
func (e *Engine) deadLetter(batch core.Batch, outcome core.Outcome) {
	if err := e.queue.Commit(batch.IDs()); err != nil {
		e.logger.Error("failed to remove dead-lettered batch",
			slog.String("error", err.Error()))
	}
	e.metrics.ItemsDropped(len(batch), "permanent")
	e.logger.Error("batch dead-lettered",
		slog.String("kind", string(batch.Kind())),
		slog.Int("items", len(batch)),
		slog.String("error", outcome.Err.Error()))
	e.notify(batch, outcome)
}

// notify publishes a delivery notification without ever blocking the loop.
func (e *Engine) notify(batch core.Batch, outcome core.Outcome) {
	d := Delivery{
		Kind:     batch.Kind(),
		ItemIDs:  batch.IDs(),
		Attempts: batch.MaxAttempts(),
		Outcome:  outcome,
	}
	select {
	case e.deliveries <- d:
	default:
	}
}

// finalFlush makes one last bounded delivery pass on shutdown. Anything
// still pending afterwards stays persisted for the next start.
func (e *Engine) finalFlush() {
	defer e.notifyWaiters()

	deadline := time.Now().Add(e.cfg.ShutdownTimeout)
	for time.Now().Before(deadline) {
		batch := e.queue.DrainBatch(e.cfg.BatchMaxSize)
		if len(batch) == 0 {
			return
		}

		outcome := e.send(context.Background(), batch)
		if outcome.Status != core.Delivered {
			// Put the batch back without burning an attempt; shutdown is not
			// the place to dead-letter.
			for _, item := range batch {
				item.AttemptCount--
			}
			e.queue.Requeue(batch)
			e.logger.Info("final flush incomplete, items remain persisted",
				slog.Int("pending", e.queue.Len()))
			return
		}
		e.commit(batch, "final_flush")
		e.notify(batch, outcome)
	}

	if n := e.queue.Len(); n > 0 {
		e.logger.Info("shutdown timeout reached, items remain persisted",
			slog.Int("pending", n))
	}
}

// notifyWaiters releases everyone blocked in FlushWait.
func (e *Engine) notifyWaiters() {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, done := range waiters {
		close(done)
	}
}
