// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client is the application-facing analytics API. It shapes event,
// profile and group payloads from session state and hands them to the
// delivery engine; it never talks to the network itself.
package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/absmach/fluxtrack/core"
	"github.com/absmach/fluxtrack/pipeline"
	"github.com/absmach/fluxtrack/session"
)

const (
	libName    = "go"
	libVersion = "1.0.0"

	anonPrefix = "$device:"
)

// Client shapes analytics payloads and submits them to the engine.
type Client struct {
	token   string
	engine  *pipeline.Engine
	session *session.State
	logger  *slog.Logger

	// People mutates the user profile behind the current distinct ID.
	People *People
	// Groups mutates group profiles.
	Groups *Groups
}

// New creates a client for the given project token.
func New(token string, engine *pipeline.Engine, state *session.State, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		token:   token,
		engine:  engine,
		session: state,
		logger:  logger,
	}
	c.People = &People{client: c}
	c.Groups = &Groups{client: c}
	return c
}

// Track records an event. Super properties, a pending event timer and the
// standard bookkeeping properties are merged in; explicit properties win.
// The call returns once the item is durably queued.
func (c *Client) Track(event string, props core.Properties) error {
	if event == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	if c.session.OptedOut() {
		c.logger.Debug("tracking disabled, event dropped", slog.String("event", event))
		return nil
	}

	final := c.session.Properties()
	final.Merge(props)

	if start, ok := c.session.PopEventTimer(event); ok {
		elapsed := time.Since(start)
		if elapsed < 0 {
			elapsed = 0
		}
		final["$duration"] = elapsed.Seconds()
	}

	final["distinct_id"] = c.session.DistinctID()
	final["token"] = c.token
	final["mp_lib"] = libName
	final["$lib_version"] = libVersion
	if _, ok := final["time"]; !ok {
		final["time"] = time.Now().Unix()
	}

	payload, err := json.Marshal(struct {
		Event      string          `json:"event"`
		Properties core.Properties `json:"properties"`
	}{Event: event, Properties: final})
	if err != nil {
		return fmt.Errorf("failed to encode event %q: %w", event, err)
	}

	return c.engine.Submit(core.KindEvent, payload)
}

// TimeEvent starts a timer for an event; the next Track of the same name
// reports the elapsed seconds as $duration.
func (c *Client) TimeEvent(event string) {
	c.session.TimeEvent(event)
}

// Register sets super properties attached to every subsequent event.
func (c *Client) Register(props core.Properties, opts session.RegisterOptions) {
	c.session.Register(props, opts)
}

// RegisterOnce sets super properties without overwriting existing keys.
func (c *Client) RegisterOnce(props core.Properties, defaultValue any, opts session.RegisterOptions) {
	c.session.RegisterOnce(props, defaultValue, opts)
}

// Unregister removes a super property.
func (c *Client) Unregister(name string, opts session.RegisterOptions) {
	c.session.Unregister(name, opts)
}

// GetProperty returns a super property value.
func (c *Client) GetProperty(name string) (any, bool) {
	return c.session.GetProperty(name)
}

// DistinctID returns the current distinct ID.
func (c *Client) DistinctID() string {
	return c.session.DistinctID()
}

// OptOut disables tracking; subsequent events are dropped locally.
func (c *Client) OptOut() { c.session.OptOut() }

// OptIn re-enables tracking.
func (c *Client) OptIn() { c.session.OptIn() }

// Identify switches the distinct ID to a known user ID and emits the
// $identify event linking the anonymous history to it.
func (c *Client) Identify(distinctID string) error {
	if distinctID == "" {
		return fmt.Errorf("distinct_id cannot be empty")
	}
	if strings.HasPrefix(distinctID, anonPrefix) {
		return fmt.Errorf("distinct_id cannot have %s prefix", anonPrefix)
	}

	old := c.session.DistinctID()
	if old == distinctID {
		return nil
	}

	// A stale alias pointing at a different user must not survive the switch.
	if alias := c.session.Alias(); alias != "" && alias != distinctID {
		c.session.Unregister("$alias", session.DefaultRegisterOptions())
		c.session.SetAlias("")
	}

	c.session.Register(core.Properties{"$user_id": distinctID}, session.DefaultRegisterOptions())

	if _, ok := c.session.GetProperty("$device_id"); !ok {
		c.session.RegisterOnce(core.Properties{
			"$device_id":                 old,
			"$had_persisted_distinct_id": true,
		}, nil, session.DefaultRegisterOptions())
	}

	c.session.SetDistinctID(distinctID)

	return c.Track("$identify", core.Properties{
		"$anon_distinct_id": old,
	})
}

// Alias creates an alias for the current distinct ID and then identifies as
// it. original defaults to the current distinct ID.
func (c *Client) Alias(alias, original string) error {
	if alias == "" {
		return fmt.Errorf("alias cannot be empty")
	}
	if original == "" {
		original = c.session.DistinctID()
	}
	if alias == original {
		c.logger.Debug("alias matches current distinct_id, skipping alias event")
		return c.Identify(alias)
	}

	c.session.SetAlias(alias)
	c.session.Register(core.Properties{"$alias": alias}, session.DefaultRegisterOptions())

	if err := c.Track("$create_alias", core.Properties{
		"alias":       alias,
		"distinct_id": original,
	}); err != nil {
		return err
	}

	return c.Identify(alias)
}

// Reset clears the session: super properties and timers gone, fresh
// anonymous distinct ID. The opt-out flag survives.
func (c *Client) Reset() string {
	return c.session.Reset()
}

// SetGroup assigns the user to the given groups under groupKey, replacing
// any previous membership, and mirrors the list onto the user profile.
func (c *Client) SetGroup(groupKey string, groupIDs []any) error {
	if len(groupIDs) == 0 {
		return fmt.Errorf("group_ids cannot be empty")
	}
	c.session.SetGroup(groupKey, groupIDs, session.DefaultRegisterOptions())
	return c.People.Set(core.Properties{groupKey: groupIDs}, nil)
}

// AddGroup adds a single group membership under groupKey.
func (c *Client) AddGroup(groupKey string, groupID any) error {
	c.session.AddGroup(groupKey, groupID, session.DefaultRegisterOptions())
	return c.People.Union(core.Properties{groupKey: []any{groupID}}, nil)
}

// RemoveGroup removes a single group membership under groupKey.
func (c *Client) RemoveGroup(groupKey string, groupID any) error {
	changed, _ := c.session.RemoveGroup(groupKey, groupID, session.DefaultRegisterOptions())
	if !changed {
		return nil
	}
	return c.People.Remove(core.Properties{groupKey: groupID}, nil)
}

// submit marshals a profile or group operation and queues it.
func (c *Client) submit(kind core.Kind, msg core.Properties) error {
	if c.session.OptedOut() {
		c.logger.Debug("tracking disabled, operation dropped", slog.String("kind", string(kind)))
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s operation: %w", kind, err)
	}
	return c.engine.Submit(kind, payload)
}

// Modifiers are the engage/groups request modifiers the ingestion API
// understands.
type Modifiers struct {
	IP          string
	Time        *int64
	IgnoreTime  bool
	IgnoreAlias bool
	Latitude    *float64
	Longitude   *float64
}

// apply stamps the modifiers onto an outgoing operation message.
func (m *Modifiers) apply(msg core.Properties) {
	if m == nil {
		return
	}
	if m.IP != "" {
		msg["$ip"] = m.IP
	}
	if m.Time != nil {
		msg["$time"] = *m.Time
	}
	if m.IgnoreTime {
		msg["$ignore_time"] = true
	}
	if m.IgnoreAlias {
		msg["$ignore_alias"] = true
	}
	if m.Latitude != nil {
		msg["$latitude"] = *m.Latitude
	}
	if m.Longitude != nil {
		msg["$longitude"] = *m.Longitude
	}
}
