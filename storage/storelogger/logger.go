// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package storelogger implements a logging wrapper around a KeyValueStore.
package storelogger

import (
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"geohub.io/geohub/storage"
)

var id int64

// Logger implements a zap logging wrapper for a storage.KeyValueStore.
type Logger struct {
	log   *zap.Logger
	store storage.KeyValueStore
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store storage.KeyValueStore) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Put adds a value to store.
func (store *Logger) Put(key storage.Key, value storage.Value) error {
	store.log.Debug("Put", zap.ByteString("key", key), zap.Int("value length", len(value)))
	return store.store.Put(key, value)
}

// Get gets a value from the store.
func (store *Logger) Get(key storage.Key) (storage.Value, error) {
	store.log.Debug("Get", zap.ByteString("key", key))
	return store.store.Get(key)
}

// List lists keys starting with prefix.
func (store *Logger) List(prefix storage.Key, limit storage.Limit) (storage.Keys, error) {
	keys, err := store.store.List(prefix, limit)
	store.log.Debug("List", zap.ByteString("prefix", prefix), zap.Int("limit", int(limit)), zap.Int("keys", len(keys)))
	return keys, err
}

// Delete deletes key and the value.
func (store *Logger) Delete(key storage.Key) error {
	store.log.Debug("Delete", zap.ByteString("key", key))
	return store.store.Delete(key)
}

// CompareAndSwap atomically changes oldValue to newValue.
func (store *Logger) CompareAndSwap(key storage.Key, oldValue, newValue storage.Value) error {
	store.log.Debug("CompareAndSwap", zap.ByteString("key", key),
		zap.Int("old length", len(oldValue)), zap.Int("new length", len(newValue)))
	return store.store.CompareAndSwap(key, oldValue, newValue)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}
