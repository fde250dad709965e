// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/absmach/fluxtrack/core"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(DefaultConfig(t.TempDir()), nil)
	require.NoError(t, err)
	return store
}

func TestStore_AppendLoadAll(t *testing.T) {
	store := setupStore(t)
	defer store.Close()

	var ids []string
	for i := 0; i < 10; i++ {
		item := core.NewQueueItem(core.KindEvent, []byte(fmt.Sprintf(`{"event":"e%d"}`, i)))
		require.NoError(t, store.Append(item))
		ids = append(ids, item.ID)
	}

	items, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 10)

	// Append order is preserved.
	for i, item := range items {
		assert.Equal(t, ids[i], item.ID)
		assert.Equal(t, core.KindEvent, item.Kind)
	}
}

func TestStore_Remove(t *testing.T) {
	store := setupStore(t)
	defer store.Close()

	var ids []string
	for i := 0; i < 4; i++ {
		item := core.NewQueueItem(core.KindEvent, []byte(`{}`))
		require.NoError(t, store.Append(item))
		ids = append(ids, item.ID)
	}

	require.NoError(t, store.Remove([]string{ids[0], ids[2]}))

	items, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, ids[1], items[0].ID)
	assert.Equal(t, ids[3], items[1].ID)
}

func TestStore_RemoveUnknownID(t *testing.T) {
	store := setupStore(t)
	defer store.Close()

	item := core.NewQueueItem(core.KindEvent, []byte(`{}`))
	require.NoError(t, store.Append(item))

	require.NoError(t, store.Remove([]string{"no-such-id"}))

	items, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(DefaultConfig(dir), nil)
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		item := core.NewQueueItem(core.KindEvent, []byte(fmt.Sprintf(`{"n":%d}`, i)))
		require.NoError(t, store.Append(item))
		ids = append(ids, item.ID)
	}
	require.NoError(t, store.Close())

	reopened, err := New(DefaultConfig(dir), nil)
	require.NoError(t, err)
	defer reopened.Close()

	items, err := reopened.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, ids[i], item.ID)
	}

	// New appends continue after the reloaded tail.
	item := core.NewQueueItem(core.KindEvent, []byte(`{"n":5}`))
	require.NoError(t, reopened.Append(item))

	items, err = reopened.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 6)
	assert.Equal(t, item.ID, items[5].ID)
}

func TestStore_CompressionRoundTrip(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.CompressMin = 64
	store, err := New(cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	// Highly compressible payload well above the threshold.
	payload := []byte(fmt.Sprintf(`{"blob":%q}`, bytes.Repeat([]byte("a"), 4096)))
	item := core.NewQueueItem(core.KindEvent, payload)
	require.NoError(t, store.Append(item))

	items, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, payload, items[0].Payload)
}

func TestStore_SkipsCorruptRecords(t *testing.T) {
	store := setupStore(t)
	defer store.Close()

	good := core.NewQueueItem(core.KindEvent, []byte(`{}`))
	require.NoError(t, store.Append(good))

	// Plant a record with an unknown encoding flag.
	n, err := store.seq.Next()
	require.NoError(t, err)
	key := fmt.Sprintf("%s%020d", queuePrefix, n)
	require.NoError(t, store.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), []byte{0xFF, 'x'})
	}))

	items, err := store.LoadAll()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, good.ID, items[0].ID)
}

func TestDecode_Invalid(t *testing.T) {
	_, err := decode(nil)
	assert.Error(t, err)

	_, err = decode([]byte{0xFF, '{', '}'})
	assert.Error(t, err)

	_, err = decode([]byte{encPlain, 'n', 'o', 't', 'j'})
	assert.Error(t, err)

	// Valid JSON but missing required fields.
	_, err = decode(append([]byte{encPlain}, []byte(`{}`)...))
	assert.Error(t, err)
}
