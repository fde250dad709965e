// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session holds the per-installation analytics identity: distinct ID,
// super properties, event timers, group memberships and the opt-out flag. All
// mutation happens synchronously on the caller's goroutine; the payload
// builder only ever reads snapshots.
package session

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/absmach/fluxtrack/core"
	"github.com/google/uuid"
)

const anonPrefix = "$device:"

// RegisterOptions control where a super property lives and for how long.
type RegisterOptions struct {
	// Persistent properties go to the durable mirror and survive restarts.
	// Non-persistent ones live only for the process lifetime.
	Persistent bool
	// Days sets an expiry on the whole persistent property store. Zero keeps
	// the current expiry.
	Days int
}

// DefaultRegisterOptions returns the default: persistent, no expiry change.
func DefaultRegisterOptions() RegisterOptions {
	return RegisterOptions{Persistent: true}
}

// State is the single process-wide session state instance.
type State struct {
	mu sync.RWMutex

	distinctID string
	alias      string
	persistent core.Properties
	memory     core.Properties
	timers     map[string]time.Time
	optedOut   bool

	mirror *Mirror
	logger *slog.Logger
}

// New creates session state, restoring the durable mirror at path when it is
// non-empty. A missing, corrupt or expired mirror starts fresh; it is never
// fatal. A fresh state gets an anonymous distinct ID.
func New(mirrorPath string, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &State{
		persistent: core.Properties{},
		memory:     core.Properties{},
		timers:     make(map[string]time.Time),
		logger:     logger,
	}

	if mirrorPath != "" {
		mirror, data, err := OpenMirror(mirrorPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open session mirror: %w", err)
		}
		s.mirror = mirror
		s.distinctID = data.DistinctID
		s.alias = data.Alias
		if data.Properties != nil {
			s.persistent = data.Properties
		}
		for name, millis := range data.EventTimers {
			s.timers[name] = time.UnixMilli(millis)
		}
	}

	if s.distinctID == "" {
		s.distinctID = anonPrefix + uuid.NewString()
		s.save()
	}

	return s, nil
}

// DistinctID returns the current distinct ID. Never empty.
func (s *State) DistinctID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.distinctID
}

// SetDistinctID replaces the distinct ID.
func (s *State) SetDistinctID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distinctID = id
	s.save()
}

// Alias returns the registered alias, if any.
func (s *State) Alias() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alias
}

// SetAlias records the alias.
func (s *State) SetAlias(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alias = alias
	s.save()
}

// Register sets super properties, overwriting existing keys.
func (s *State) Register(props core.Properties, opts RegisterOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Persistent {
		s.persistent.Merge(props)
		s.applyExpiry(opts.Days)
		s.save()
	} else {
		s.memory.Merge(props)
	}
}

// RegisterOnce sets super properties only for keys that are absent, or whose
// current value equals defaultValue.
func (s *State) RegisterOnce(props core.Properties, defaultValue any, opts RegisterOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.memory
	if opts.Persistent {
		target = s.persistent
	}

	changed := false
	for k, v := range props {
		current, exists := target[k]
		if !exists || (defaultValue != nil && reflect.DeepEqual(current, defaultValue)) {
			target[k] = v
			changed = true
		}
	}

	if opts.Persistent && changed {
		s.applyExpiry(opts.Days)
		s.save()
	}
}

// Unregister removes a super property from both tiers.
func (s *State) Unregister(name string, opts RegisterOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Persistent {
		delete(s.persistent, name)
		s.save()
	} else {
		delete(s.memory, name)
	}
}

// GetProperty returns a super property, preferring the persistent tier.
func (s *State) GetProperty(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.persistent[name]; ok {
		return v, true
	}
	v, ok := s.memory[name]
	return v, ok
}

// Properties returns a merged snapshot of all super properties: persistent
// first, then in-memory overrides.
func (s *State) Properties() core.Properties {
	s.mu.RLock()
	defer s.mu.RUnlock()

	props := s.persistent.Clone()
	props.Merge(s.memory)
	return props
}

// TimeEvent records a start timestamp for the named event. The next Track of
// that event consumes the timer and reports the elapsed duration.
func (s *State) TimeEvent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[name] = time.Now()
	s.save()
}

// PopEventTimer consumes and returns the start timestamp for an event.
func (s *State) PopEventTimer(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.timers[name]
	if ok {
		delete(s.timers, name)
		s.save()
	}
	return start, ok
}

// Reset clears super properties, timers and the alias, and assigns a fresh
// anonymous distinct ID. The opt-out flag is deliberately untouched.
func (s *State) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.persistent = core.Properties{}
	s.memory = core.Properties{}
	s.timers = make(map[string]time.Time)
	s.alias = ""
	s.distinctID = anonPrefix + uuid.NewString()
	s.save()
	return s.distinctID
}

// OptOut disables tracking for this installation.
func (s *State) OptOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optedOut = true
}

// OptIn re-enables tracking.
func (s *State) OptIn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optedOut = false
}

// OptedOut reports whether tracking is disabled.
func (s *State) OptedOut() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optedOut
}

// SetGroup replaces the group ID list for a group key.
func (s *State) SetGroup(groupKey string, groupIDs []any, opts RegisterOptions) {
	s.Register(core.Properties{groupKey: groupIDs}, opts)
}

// AddGroup adds a group ID to a group key. It reports whether the list
// changed and returns the resulting list.
func (s *State) AddGroup(groupKey string, groupID any, opts RegisterOptions) (bool, []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.groupListLocked(groupKey)
	for _, id := range current {
		if reflect.DeepEqual(id, groupID) {
			return false, current
		}
	}

	updated := append(current, groupID)
	s.setGroupLocked(groupKey, updated, opts)
	return true, updated
}

// RemoveGroup removes a group ID from a group key. It reports whether the
// list changed and returns the remaining list. An emptied list unregisters
// the key.
func (s *State) RemoveGroup(groupKey string, groupID any, opts RegisterOptions) (bool, []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.groupListLocked(groupKey)
	remaining := make([]any, 0, len(current))
	for _, id := range current {
		if !reflect.DeepEqual(id, groupID) {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == len(current) {
		return false, current
	}

	if len(remaining) == 0 {
		if opts.Persistent {
			delete(s.persistent, groupKey)
			s.save()
		} else {
			delete(s.memory, groupKey)
		}
		return true, remaining
	}

	s.setGroupLocked(groupKey, remaining, opts)
	return true, remaining
}

func (s *State) groupListLocked(groupKey string) []any {
	var raw any
	if v, ok := s.persistent[groupKey]; ok {
		raw = v
	} else if v, ok := s.memory[groupKey]; ok {
		raw = v
	}
	list, _ := raw.([]any)
	return list
}

func (s *State) setGroupLocked(groupKey string, ids []any, opts RegisterOptions) {
	if opts.Persistent {
		s.persistent[groupKey] = ids
		s.save()
	} else {
		s.memory[groupKey] = ids
	}
}

// applyExpiry extends the mirror store expiry; must be called with the lock
// held, before save so the new expiry lands in the snapshot.
func (s *State) applyExpiry(days int) {
	if s.mirror != nil && days > 0 {
		s.mirror.ExtendExpiry(time.Duration(days) * 24 * time.Hour)
	}
}

// save pushes the current state to the durable mirror; must be called with
// the lock held.
func (s *State) save() {
	if s.mirror == nil {
		return
	}

	timers := make(map[string]int64, len(s.timers))
	for name, start := range s.timers {
		timers[name] = start.UnixMilli()
	}

	if err := s.mirror.Save(MirrorData{
		DistinctID:  s.distinctID,
		Alias:       s.alias,
		Properties:  s.persistent.Clone(),
		EventTimers: timers,
	}); err != nil {
		s.logger.Error("failed to save session state", slog.String("error", err.Error()))
	}
}
