// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package boltdb implements a KeyValueStore backed by Bolt.
package boltdb

import (
	"bytes"
	"time"

	"github.com/boltdb/bolt"

	"geohub.io/geohub/storage"
)

const (
	// fileMode sets permissions so owner can read and write.
	fileMode       = 0600
	defaultTimeout = 1 * time.Second
)

// Client is the storage interface for the Bolt database.
type Client struct {
	db     *bolt.DB
	Path   string
	Bucket []byte
}

// New instantiates a new BoltDB client given a file path and a bucket name.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Client{
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
	}, nil
}

// NewShared instantiates a new BoltDB client in a different bucket of an
// already open database.
func NewShared(client *Client, bucket string) (*Client, error) {
	err := client.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		db:     client.db,
		Path:   client.Path,
		Bucket: []byte(bucket),
	}, nil
}

func (client *Client) update(fn func(*bolt.Bucket) error) error {
	return client.db.Update(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(client.Bucket))
	})
}

func (client *Client) view(fn func(*bolt.Bucket) error) error {
	return client.db.View(func(tx *bolt.Tx) error {
		return fn(tx.Bucket(client.Bucket))
	})
}

// Put adds a key/value to the bucket.
func (client *Client) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return client.update(func(bucket *bolt.Bucket) error {
		return bucket.Put(key, value)
	})
}

// Get looks up the provided key from the bucket.
func (client *Client) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	var value storage.Value
	err := client.view(func(bucket *bolt.Bucket) error {
		data := bucket.Get(key)
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = storage.CloneValue(data)
		return nil
	})
	return value, err
}

// List returns up to limit keys starting with prefix, in ascending order.
func (client *Client) List(prefix storage.Key, limit storage.Limit) (storage.Keys, error) {
	if limit <= 0 || limit > storage.LookupLimit {
		limit = storage.LookupLimit
	}

	var keys storage.Keys
	err := client.view(func(bucket *bolt.Bucket) error {
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil; k, _ = cursor.Next() {
			if !bytes.HasPrefix(k, prefix) {
				break
			}
			keys = append(keys, storage.CloneKey(k))
			if len(keys) >= int(limit) {
				break
			}
		}
		return nil
	})
	return keys, err
}

// Delete deletes a key/value pair from the bucket.
func (client *Client) Delete(key storage.Key) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return client.update(func(bucket *bolt.Bucket) error {
		if bucket.Get(key) == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		return bucket.Delete(key)
	})
}

// CompareAndSwap atomically changes oldValue to newValue inside a single
// bolt transaction.
func (client *Client) CompareAndSwap(key storage.Key, oldValue, newValue storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	return client.update(func(bucket *bolt.Bucket) error {
		current := bucket.Get(key)
		if current == nil {
			if oldValue != nil {
				return storage.ErrKeyNotFound.New("%q", key)
			}
			if newValue == nil {
				return nil
			}
			return bucket.Put(key, newValue)
		}

		if oldValue == nil || !bytes.Equal(current, oldValue) {
			return storage.ErrValueChanged.New("%q", key)
		}

		if newValue == nil {
			return bucket.Delete(key)
		}
		return bucket.Put(key, newValue)
	})
}

// Close closes the client.
func (client *Client) Close() error {
	return client.db.Close()
}
