// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindEvent.Valid())
	assert.True(t, KindProfileOp.Valid())
	assert.True(t, KindGroupOp.Valid())
	assert.False(t, Kind("").Valid())
	assert.False(t, Kind("bogus").Valid())
}

func TestNewQueueItem(t *testing.T) {
	item := NewQueueItem(KindEvent, []byte(`{"event":"x"}`))

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, KindEvent, item.Kind)
	assert.Equal(t, 0, item.AttemptCount)
	assert.False(t, item.EnqueuedAt.IsZero())

	// IDs are unique.
	other := NewQueueItem(KindEvent, nil)
	assert.NotEqual(t, item.ID, other.ID)
}

func TestCopyItem(t *testing.T) {
	item := NewQueueItem(KindEvent, []byte(`{"a":1}`))
	cp := CopyItem(item)

	require.NotSame(t, item, cp)
	assert.Equal(t, item.ID, cp.ID)

	// Payloads do not share backing storage.
	cp.Payload[1] = 'x'
	assert.Equal(t, []byte(`{"a":1}`), item.Payload)

	assert.Nil(t, CopyItem(nil))
}

func TestBatch_Accessors(t *testing.T) {
	a := NewQueueItem(KindEvent, []byte(`{"n":1}`))
	b := NewQueueItem(KindEvent, []byte(`{"n":2}`))
	b.AttemptCount = 3
	batch := Batch{a, b}

	assert.Equal(t, []string{a.ID, b.ID}, batch.IDs())
	assert.Equal(t, KindEvent, batch.Kind())
	assert.Equal(t, [][]byte{a.Payload, b.Payload}, batch.Payloads())
	assert.Equal(t, 3, batch.MaxAttempts())

	var empty Batch
	assert.Equal(t, Kind(""), empty.Kind())
	assert.Equal(t, 0, empty.MaxAttempts())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "delivered", Delivered.String())
	assert.Equal(t, "transient", Transient.String())
	assert.Equal(t, "permanent", Permanent.String())
}

func TestOutcomeConstructors(t *testing.T) {
	assert.Equal(t, Delivered, OutcomeDelivered().Status)

	o := OutcomeTransient(assert.AnError)
	assert.Equal(t, Transient, o.Status)
	assert.Equal(t, assert.AnError, o.Err)

	o = OutcomePermanent(assert.AnError)
	assert.Equal(t, Permanent, o.Status)
}
