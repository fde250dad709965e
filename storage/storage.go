// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"

	"github.com/absmach/fluxtrack/core"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store is closed")
)

// Store is the durable backing store for pending queue items. Items survive
// process restarts; the engine reloads them once at startup via LoadAll.
//
// Implementations must keep load order identical to append order, and must
// tolerate individual corrupt records on load: a record that fails to decode
// is skipped, the remainder of the store still loads.
type Store interface {
	// Append durably persists a queue item. It returns only after the write
	// has been handed to the backing store.
	Append(item *core.QueueItem) error

	// Remove deletes the items with the given IDs. Unknown IDs are ignored.
	Remove(ids []string) error

	// LoadAll returns all persisted items in append order.
	LoadAll() ([]*core.QueueItem, error)

	// Close releases the backing store.
	Close() error
}
