// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"
	"time"

	"github.com/absmach/fluxtrack/core"
)

// People mutates the user profile behind the client's current distinct ID.
// Each call queues one engage operation.
type People struct {
	client *Client
}

// Set assigns profile properties, overwriting existing values.
func (p *People) Set(props core.Properties, mods *Modifiers) error {
	return p.submit("$set", props, mods)
}

// SetOnce assigns profile properties only if they are not already set.
func (p *People) SetOnce(props core.Properties, mods *Modifiers) error {
	return p.submit("$set_once", props, mods)
}

// Unset removes the named profile properties.
func (p *People) Unset(names []string, mods *Modifiers) error {
	if len(names) == 0 {
		return fmt.Errorf("property names cannot be empty")
	}
	return p.submit("$unset", names, mods)
}

// Increment adds the given numeric deltas to profile properties.
func (p *People) Increment(props core.Properties, mods *Modifiers) error {
	return p.submit("$add", props, mods)
}

// Append appends a value to each named list property.
func (p *People) Append(props core.Properties, mods *Modifiers) error {
	return p.submit("$append", props, mods)
}

// Remove removes a value from each named list property.
func (p *People) Remove(props core.Properties, mods *Modifiers) error {
	return p.submit("$remove", props, mods)
}

// Union merges values into each named list property, skipping duplicates.
func (p *People) Union(props core.Properties, mods *Modifiers) error {
	return p.submit("$union", props, mods)
}

// TrackCharge appends a transaction to the profile's $transactions list.
func (p *People) TrackCharge(amount float64, props core.Properties, mods *Modifiers) error {
	charge := core.Properties{
		"$amount": amount,
		"$time":   time.Now().UTC().Format("2006-01-02T15:04:05"),
	}
	charge.Merge(props)
	return p.submit("$append", core.Properties{"$transactions": charge}, mods)
}

// ClearCharges empties the profile's $transactions list.
func (p *People) ClearCharges(mods *Modifiers) error {
	return p.submit("$set", core.Properties{"$transactions": []any{}}, mods)
}

// DeleteUser permanently deletes the profile.
func (p *People) DeleteUser(mods *Modifiers) error {
	return p.submit("$delete", "", mods)
}

func (p *People) submit(op string, value any, mods *Modifiers) error {
	c := p.client
	msg := core.Properties{
		"$token":       c.token,
		"$distinct_id": c.session.DistinctID(),
		op:             value,
	}
	mods.apply(msg)
	return c.submit(core.KindProfileOp, msg)
}
