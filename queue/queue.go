// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/storage"
)

// Common errors.
var (
	// ErrPersistence means the durable write failed. The item is still held
	// in memory best-effort, but will not survive a restart.
	ErrPersistence = errors.New("persistence write failed")
)

// EventQueue is the in-memory FIFO buffer of pending items, backed by a
// durable store. Draining is two-phase: DrainBatch reserves items without
// deleting them from the store; Commit deletes them after confirmed delivery
// (or dead-lettering); Requeue returns them to the head after a transient
// failure.
type EventQueue struct {
	mu     sync.Mutex
	items  []*core.QueueItem
	store  storage.Store
	logger *slog.Logger
}

// New creates an event queue over the given store.
func New(store storage.Store, logger *slog.Logger) *EventQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventQueue{
		store:  store,
		logger: logger,
	}
}

// Load repopulates the in-memory queue from the store, called once at
// startup. Items persisted by a previous process go to the head; items
// enqueued concurrently in this process stay behind them. An item present in
// both (enqueued after LoadAll read the store) is kept once, in its loaded
// position.
func (q *EventQueue) Load() error {
	items, err := q.store.LoadAll()
	if err != nil {
		return fmt.Errorf("failed to reload queue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	loaded := make(map[string]struct{}, len(items))
	for _, item := range items {
		loaded[item.ID] = struct{}{}
	}
	for _, item := range q.items {
		if _, ok := loaded[item.ID]; !ok {
			items = append(items, item)
		}
	}
	q.items = items

	if len(items) > 0 {
		q.logger.Info("reloaded pending items from store", slog.Int("count", len(items)))
	}
	return nil
}

// Enqueue appends an item to the tail, persisting it before returning. If the
// durable write fails, the item is still kept in memory and the error is
// reported to the caller rather than swallowed: delivery may still succeed in
// this process, but the item will not survive a restart.
func (q *EventQueue) Enqueue(item *core.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	persistErr := q.store.Append(item)
	q.items = append(q.items, item)

	if persistErr != nil {
		q.logger.Error("item held in memory only",
			slog.String("id", item.ID),
			slog.String("kind", string(item.Kind)),
			slog.String("error", persistErr.Error()))
		return fmt.Errorf("%w: %v", ErrPersistence, persistErr)
	}
	return nil
}

// DrainBatch removes up to max items from the head of the queue and returns
// them as a batch. All items in the batch share the kind of the head item, so
// a batch always maps to a single ingestion endpoint. The store records are
// untouched until Commit.
func (q *EventQueue) DrainBatch(max int) core.Batch {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max <= 0 || len(q.items) == 0 {
		return nil
	}

	kind := q.items[0].Kind
	n := 0
	for n < len(q.items) && n < max && q.items[n].Kind == kind {
		n++
	}

	batch := make(core.Batch, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	return batch
}

// Commit deletes the given item IDs from the durable store. Called after the
// batch was delivered, or when it is dead-lettered.
func (q *EventQueue) Commit(ids []string) error {
	if err := q.store.Remove(ids); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Requeue returns a reserved-but-undelivered batch to the head of the queue
// in its original order, incrementing each item's attempt count.
func (q *EventQueue) Requeue(batch core.Batch) {
	if len(batch) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range batch {
		item.AttemptCount++
	}
	q.items = append(batch, q.items...)
}

// Len returns the number of pending items.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
