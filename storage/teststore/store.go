// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package teststore implements an in-memory KeyValueStore for testing.
package teststore

import (
	"bytes"
	"sort"
	"sync"

	"geohub.io/geohub/storage"
)

// Client implements an in-memory key value store.
type Client struct {
	mu    sync.Mutex
	items []item

	CallCount struct {
		Get            int
		Put            int
		List           int
		Delete         int
		CompareAndSwap int
		Close          int
	}
}

type item struct {
	key   storage.Key
	value storage.Value
}

// New creates a new in-memory key-value store.
func New() *Client { return &Client{} }

// indexOf finds index of key or where it could be inserted.
func (store *Client) indexOf(key storage.Key) (int, bool) {
	i := sort.Search(len(store.items), func(k int) bool {
		return bytes.Compare(store.items[k].key, key) >= 0
	})

	if i >= len(store.items) {
		return i, false
	}
	return i, bytes.Equal(store.items[i].key, key)
}

func (store *Client) put(key storage.Key, value storage.Value) {
	keyIndex, found := store.indexOf(key)
	if found {
		store.items[keyIndex].value = storage.CloneValue(value)
		return
	}

	store.items = append(store.items, item{})
	copy(store.items[keyIndex+1:], store.items[keyIndex:])
	store.items[keyIndex] = item{
		key:   storage.CloneKey(key),
		value: storage.CloneValue(value),
	}
}

func (store *Client) delete(keyIndex int) {
	copy(store.items[keyIndex:], store.items[keyIndex+1:])
	store.items = store.items[:len(store.items)-1]
}

// Put adds a value to store.
func (store *Client) Put(key storage.Key, value storage.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	store.put(key, value)
	return nil
}

// Get gets a value from the store.
func (store *Client) Get(key storage.Key) (storage.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return storage.CloneValue(store.items[keyIndex].value), nil
}

// List returns up to limit keys starting with prefix.
func (store *Client) List(prefix storage.Key, limit storage.Limit) (storage.Keys, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.List++

	if limit <= 0 || limit > storage.LookupLimit {
		limit = storage.LookupLimit
	}

	var keys storage.Keys
	start, _ := store.indexOf(prefix)
	for i := start; i < len(store.items); i++ {
		if !bytes.HasPrefix(store.items[i].key, prefix) {
			break
		}
		keys = append(keys, storage.CloneKey(store.items[i].key))
		if len(keys) >= int(limit) {
			break
		}
	}
	return keys, nil
}

// Delete deletes key and its value.
func (store *Client) Delete(key storage.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++

	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		return storage.ErrKeyNotFound.New("%q", key)
	}
	store.delete(keyIndex)
	return nil
}

// CompareAndSwap atomically changes oldValue to newValue.
func (store *Client) CompareAndSwap(key storage.Key, oldValue, newValue storage.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.CompareAndSwap++

	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		if oldValue != nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		if newValue == nil {
			return nil
		}
		store.put(key, newValue)
		return nil
	}

	if oldValue == nil {
		return storage.ErrValueChanged.New("%q", key)
	}
	if !bytes.Equal(store.items[keyIndex].value, oldValue) {
		return storage.ErrValueChanged.New("%q", key)
	}

	if newValue == nil {
		store.delete(keyIndex)
		return nil
	}
	store.items[keyIndex].value = storage.CloneValue(newValue)
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}
