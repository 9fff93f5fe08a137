// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package redis implements a KeyValueStore backed by Redis.
package redis

import (
	"bytes"
	"sort"
	"time"

	"github.com/go-redis/redis"
	"github.com/zeebo/errs"

	"geohub.io/geohub/storage"
)

// Error is the error class for redis storage errors.
var Error = errs.Class("redis error")

// Client is the entrypoint into Redis.
type Client struct {
	db  *redis.Client
	TTL time.Duration
}

// NewClient returns a configured Client instance, verifying a successful
// connection to redis.
func NewClient(address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	if err := client.db.Ping().Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

// Put adds a value to the provided key in redis.
func (client *Client) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	err := client.db.Set(key.String(), []byte(value), client.TTL).Err()
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

// Get looks up the provided key from redis.
func (client *Client) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	value, err := client.db.Get(key.String()).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.New("get error: %v", err)
	}
	return value, nil
}

// List returns up to limit keys starting with prefix, in ascending order.
func (client *Client) List(prefix storage.Key, limit storage.Limit) (storage.Keys, error) {
	if limit <= 0 || limit > storage.LookupLimit {
		limit = storage.LookupLimit
	}

	match := string(escapeMatch([]byte(prefix))) + "*"

	var all []string
	var cursor uint64
	for {
		keys, next, err := client.db.Scan(cursor, match, int64(storage.LookupLimit)).Result()
		if err != nil {
			return nil, Error.New("scan error: %v", err)
		}
		all = append(all, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(all)

	if len(all) > int(limit) {
		all = all[:limit]
	}

	keys := make(storage.Keys, len(all))
	for i, key := range all {
		keys[i] = storage.Key(key)
	}
	return keys, nil
}

// Delete deletes a key/value pair from redis.
func (client *Client) Delete(key storage.Key) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	deleted, err := client.db.Del(key.String()).Result()
	if err != nil {
		return Error.New("delete error: %v", err)
	}
	if deleted == 0 {
		return storage.ErrKeyNotFound.New("%q", key)
	}
	return nil
}

// CompareAndSwap atomically changes oldValue to newValue using WATCH/MULTI.
func (client *Client) CompareAndSwap(key storage.Key, oldValue, newValue storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(key.String()).Bytes()
		missing := err == redis.Nil
		if err != nil && !missing {
			return Error.New("get error: %v", err)
		}

		if missing {
			if oldValue != nil {
				return storage.ErrKeyNotFound.New("%q", key)
			}
			if newValue == nil {
				return nil
			}
		} else {
			if oldValue == nil || !bytes.Equal(current, oldValue) {
				return storage.ErrValueChanged.New("%q", key)
			}
		}

		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			if newValue == nil {
				pipe.Del(key.String())
			} else {
				pipe.Set(key.String(), []byte(newValue), client.TTL)
			}
			return nil
		})
		return err
	}

	err := client.db.Watch(txf, key.String())
	if err == redis.TxFailedErr {
		// another writer raced us between GET and EXEC
		return storage.ErrValueChanged.New("%q", key)
	}
	return err
}

// Close closes a redis client.
func (client *Client) Close() error {
	return client.db.Close()
}
