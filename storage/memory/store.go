// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store. Items do not survive
// restarts; it backs the memory storage type and tests.
type Store struct {
	mu     sync.Mutex
	items  []*core.QueueItem
	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{}
}

// Append stores an item at the tail.
func (s *Store) Append(item *core.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	s.items = append(s.items, core.CopyItem(item))
	return nil
}

// Remove deletes items by ID, preserving the order of the remainder.
func (s *Store) Remove(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := s.items[:0]
	for _, item := range s.items {
		if _, ok := drop[item.ID]; !ok {
			kept = append(kept, item)
		}
	}
	s.items = kept
	return nil
}

// LoadAll returns copies of all items in append order.
func (s *Store) LoadAll() ([]*core.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	out := make([]*core.QueueItem, len(s.items))
	for i, item := range s.items {
		out[i] = core.CopyItem(item)
	}
	return out, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
