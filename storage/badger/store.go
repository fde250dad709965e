// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/s2"
)

var _ storage.Store = (*Store)(nil)

// Key layout:
//   - queue/{seq:020d} -> encoded item (append order == seq order)
//   - id/{itemID}      -> queue key (for O(1) removal by ID)
//
// Value encoding: one flag byte (encPlain or encS2) followed by the JSON
// document, s2-compressed when that actually shrinks it.
const (
	queuePrefix = "queue/"
	indexPrefix = "id/"

	encPlain byte = 0
	encS2    byte = 1
)

// Config holds BadgerDB configuration for the queue store.
type Config struct {
	// Dir is the directory for BadgerDB data.
	Dir string
	// SyncWrites fsyncs every write. Defaults to true: the enqueue guarantee
	// is that a successfully queued item survives an immediate crash.
	SyncWrites bool
	// CompressMin is the payload size in bytes above which values are
	// s2-compressed. Zero disables compression.
	CompressMin int
}

// DefaultConfig returns the default badger store configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		SyncWrites:  true,
		CompressMin: 1024,
	}
}

// Store is a BadgerDB-backed implementation of storage.Store.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// New opens a BadgerDB-backed queue store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.SyncWrites = cfg.SyncWrites
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	seq, err := db.GetSequence([]byte("meta/seq"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sequence: %w", err)
	}

	return &Store{
		db:     db,
		seq:    seq,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Append persists an item at the next sequence position.
func (s *Store) Append(item *core.QueueItem) error {
	if s.isClosed() {
		return storage.ErrClosed
	}

	val, err := s.encode(item)
	if err != nil {
		return err
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("failed to advance sequence: %w", err)
	}
	key := []byte(fmt.Sprintf("%s%020d", queuePrefix, n))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set([]byte(indexPrefix+item.ID), key)
	})
}

// Remove deletes items by ID. IDs with no index entry are ignored.
func (s *Store) Remove(ids []string) error {
	if s.isClosed() {
		return storage.ErrClosed
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			idxKey := []byte(indexPrefix + id)
			entry, err := txn.Get(idxKey)
			if err != nil {
				if err == badger.ErrKeyNotFound {
					continue
				}
				return err
			}
			queueKey, err := entry.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Delete(queueKey); err != nil {
				return err
			}
			if err := txn.Delete(idxKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll returns all persisted items in append order. Records that fail to
// decode are skipped and logged so one bad record never loses the whole queue.
func (s *Store) LoadAll() ([]*core.QueueItem, error) {
	if s.isClosed() {
		return nil, storage.ErrClosed
	}

	var items []*core.QueueItem
	var skipped int

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queuePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			entry := it.Item()
			err := entry.Value(func(val []byte) error {
				item, err := decode(val)
				if err != nil {
					skipped++
					s.logger.Warn("skipping corrupt queue record",
						slog.String("key", string(entry.Key())),
						slog.String("error", err.Error()))
					return nil
				}
				items = append(items, item)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load queue: %w", err)
	}

	if skipped > 0 {
		s.logger.Warn("queue loaded with corrupt records skipped",
			slog.Int("loaded", len(items)),
			slog.Int("skipped", skipped))
	}
	return items, nil
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to release sequence: %w", err)
	}
	return s.db.Close()
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) encode(item *core.QueueItem) ([]byte, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}

	if s.cfg.CompressMin > 0 && len(data) >= s.cfg.CompressMin {
		compressed := s2.Encode(nil, data)
		// Only use compression if it actually reduces size
		if len(compressed) < len(data) {
			return append([]byte{encS2}, compressed...), nil
		}
	}
	return append([]byte{encPlain}, data...), nil
}

func decode(val []byte) (*core.QueueItem, error) {
	if len(val) < 1 {
		return nil, fmt.Errorf("record too short")
	}

	data := val[1:]
	switch val[0] {
	case encPlain:
	case encS2:
		decoded, err := s2.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress record: %w", err)
		}
		data = decoded
	default:
		return nil, fmt.Errorf("unknown encoding flag %d", val[0])
	}

	item := &core.QueueItem{}
	if err := json.Unmarshal(data, item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if item.ID == "" || !item.Kind.Valid() {
		return nil, fmt.Errorf("record missing id or kind")
	}
	return item, nil
}
