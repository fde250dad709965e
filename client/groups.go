// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"fmt"

	"github.com/absmach/fluxtrack/core"
)

// Groups mutates group profiles. Each call queues one group operation for
// the group identified by key and ID.
type Groups struct {
	client *Client
}

// Set assigns group profile properties, overwriting existing values.
func (g *Groups) Set(groupKey string, groupID any, props core.Properties) error {
	return g.submit(groupKey, groupID, "$set", props)
}

// SetOnce assigns group profile properties only if not already set.
func (g *Groups) SetOnce(groupKey string, groupID any, props core.Properties) error {
	return g.submit(groupKey, groupID, "$set_once", props)
}

// Union merges values into each named list property, skipping duplicates.
func (g *Groups) Union(groupKey string, groupID any, props core.Properties) error {
	return g.submit(groupKey, groupID, "$union", props)
}

// Remove removes a value from each named list property.
func (g *Groups) Remove(groupKey string, groupID any, props core.Properties) error {
	return g.submit(groupKey, groupID, "$remove", props)
}

// Unset removes the named group profile properties.
func (g *Groups) Unset(groupKey string, groupID any, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("property names cannot be empty")
	}
	return g.submit(groupKey, groupID, "$unset", names)
}

// Delete permanently deletes the group profile.
func (g *Groups) Delete(groupKey string, groupID any) error {
	return g.submit(groupKey, groupID, "$delete", "")
}

func (g *Groups) submit(groupKey string, groupID any, op string, value any) error {
	if groupKey == "" {
		return fmt.Errorf("group_key cannot be empty")
	}
	c := g.client
	msg := core.Properties{
		"$token":     c.token,
		"$group_key": groupKey,
		"$group_id":  groupID,
		op:           value,
	}
	return c.submit(core.KindGroupOp, msg)
}
