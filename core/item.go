// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which ingestion endpoint a queue item targets.
type Kind string

const (
	// KindEvent is a tracked event (ingested via /track).
	KindEvent Kind = "event"
	// KindProfileOp is a user profile mutation (ingested via /engage).
	KindProfileOp Kind = "profile"
	// KindGroupOp is a group profile mutation (ingested via /groups).
	KindGroupOp Kind = "group"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindProfileOp, KindGroupOp:
		return true
	}
	return false
}

// QueueItem is a single pending analytics record. It is owned exclusively by
// the event queue from enqueue until it is delivered or dead-lettered.
type QueueItem struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Payload      []byte    `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
}

// NewQueueItem creates a queue item with a fresh ID and the current time.
func NewQueueItem(kind Kind, payload []byte) *QueueItem {
	return &QueueItem{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
}

// CopyItem creates a deep copy of a queue item.
func CopyItem(item *QueueItem) *QueueItem {
	if item == nil {
		return nil
	}
	cp := *item
	if len(item.Payload) > 0 {
		cp.Payload = make([]byte, len(item.Payload))
		copy(cp.Payload, item.Payload)
	}
	return &cp
}

// Batch is an ordered, size-bounded group of queue items of a single kind,
// sent in one delivery attempt. It is immutable once drained from the queue.
type Batch []*QueueItem

// IDs returns the item IDs in batch order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b))
	for i, item := range b {
		ids[i] = item.ID
	}
	return ids
}

// Kind returns the kind shared by all items in the batch. Empty batches have
// no kind.
func (b Batch) Kind() Kind {
	if len(b) == 0 {
		return ""
	}
	return b[0].Kind
}

// Payloads returns the raw serialized bodies in batch order.
func (b Batch) Payloads() [][]byte {
	payloads := make([][]byte, len(b))
	for i, item := range b {
		payloads[i] = item.Payload
	}
	return payloads
}

// MaxAttempts returns the highest attempt count in the batch. The retry
// policy is evaluated against the most-retried item so a batch can never
// outlive the ceiling by being merged with fresh items.
func (b Batch) MaxAttempts() int {
	max := 0
	for _, item := range b {
		if item.AttemptCount > max {
			max = item.AttemptCount
		}
	}
	return max
}
