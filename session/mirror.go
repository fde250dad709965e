// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/absmach/fluxtrack/core"
)

// MirrorData is the durable session snapshot: a single small JSON document.
type MirrorData struct {
	DistinctID     string           `json:"distinct_id,omitempty"`
	Alias          string           `json:"alias,omitempty"`
	Properties     core.Properties  `json:"properties,omitempty"`
	EventTimers    map[string]int64 `json:"event_timers,omitempty"`
	StoreExpiresAt int64            `json:"store_expires_at,omitempty"`
}

// Mirror persists session state to a JSON file. Writes go through a temp
// file and rename so a crash mid-write leaves the previous snapshot intact.
type Mirror struct {
	mu        sync.Mutex
	path      string
	expiresAt int64 // unix millis, 0 = no expiry
	logger    *slog.Logger
}

// OpenMirror loads the mirror at path, returning the restored data. A
// missing file yields empty data. A corrupt or expired file is discarded and
// logged; the caller starts fresh.
func OpenMirror(path string, logger *slog.Logger) (*Mirror, MirrorData, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, MirrorData{}, nil
		}
		return nil, MirrorData{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var data MirrorData
	if err := json.Unmarshal(raw, &data); err != nil {
		logger.Warn("discarding corrupt session state file",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return m, MirrorData{}, nil
	}

	if data.StoreExpiresAt > 0 && time.Now().UnixMilli() >= data.StoreExpiresAt {
		logger.Info("session state expired, starting fresh", slog.String("path", path))
		return m, MirrorData{}, nil
	}

	m.expiresAt = data.StoreExpiresAt
	return m, data, nil
}

// Save writes the snapshot atomically.
func (m *Mirror) Save(data MirrorData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data.StoreExpiresAt = m.expiresAt

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// ExtendExpiry moves the store expiry forward to now+ttl if that is later
// than the current expiry (or the current expiry has already passed).
func (m *Mirror) ExtendExpiry(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	candidate := now + ttl.Milliseconds()
	if m.expiresAt == 0 || candidate > m.expiresAt || now >= m.expiresAt {
		m.expiresAt = candidate
	}
}
