// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package testsuite contains conformance tests for KeyValueStore
// implementations.
package testsuite

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geohub.io/geohub/storage"
)

// RunTests runs the KeyValueStore conformance suite against store.
func RunTests(t *testing.T, store storage.KeyValueStore) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, store) })
	t.Run("List", func(t *testing.T) { testList(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, store) })
}

func testCRUD(t *testing.T, store storage.KeyValueStore) {
	key := storage.Key("crud/alpha")

	_, err := store.Get(key)
	assert.True(t, storage.ErrKeyNotFound.Has(err), "expected key not found, got %v", err)

	require.NoError(t, store.Put(key, storage.Value("one")))
	value, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, storage.Value("one"), value)

	require.NoError(t, store.Put(key, storage.Value("two")))
	value, err = store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, storage.Value("two"), value)

	require.NoError(t, store.Delete(key))
	_, err = store.Get(key)
	assert.True(t, storage.ErrKeyNotFound.Has(err))

	err = store.Delete(key)
	assert.True(t, storage.ErrKeyNotFound.Has(err))

	err = store.Put(nil, storage.Value("zero"))
	assert.True(t, storage.ErrEmptyKey.Has(err))
}

func testList(t *testing.T, store storage.KeyValueStore) {
	items := map[string]string{
		"list/a":   "1",
		"list/b":   "2",
		"list/c/x": "3",
		"other/a":  "4",
	}
	for k, v := range items {
		require.NoError(t, store.Put(storage.Key(k), storage.Value(v)))
	}

	keys, err := store.List(storage.Key("list/"), 0)
	require.NoError(t, err)

	want := storage.Keys{
		storage.Key("list/a"),
		storage.Key("list/b"),
		storage.Key("list/c/x"),
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("listed keys mismatch (-want +got):\n%s", diff)
	}

	keys, err = store.List(storage.Key("list/"), 2)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	keys, err = store.List(storage.Key("missing/"), 0)
	require.NoError(t, err)
	assert.Len(t, keys, 0)

	for k := range items {
		require.NoError(t, store.Delete(storage.Key(k)))
	}
}

func testCompareAndSwap(t *testing.T, store storage.KeyValueStore) {
	key := storage.Key("cas/key")

	// insert-if-absent
	require.NoError(t, store.CompareAndSwap(key, nil, storage.Value("first")))
	err := store.CompareAndSwap(key, nil, storage.Value("second"))
	assert.True(t, storage.ErrValueChanged.Has(err), "expected value changed, got %v", err)

	value, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, storage.Value("first"), value)

	// swap with correct and stale expectations
	require.NoError(t, store.CompareAndSwap(key, storage.Value("first"), storage.Value("second")))
	err = store.CompareAndSwap(key, storage.Value("first"), storage.Value("third"))
	assert.True(t, storage.ErrValueChanged.Has(err))

	// conditional delete
	require.NoError(t, store.CompareAndSwap(key, storage.Value("second"), nil))
	_, err = store.Get(key)
	assert.True(t, storage.ErrKeyNotFound.Has(err))

	// swap on a missing key with an expectation fails
	err = store.CompareAndSwap(key, storage.Value("anything"), storage.Value("new"))
	assert.True(t, storage.ErrKeyNotFound.Has(err))
}
