// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package metadb implements a JSON document store with named collections on
// top of a storage.KeyValueStore.
package metadb

import (
	"encoding/json"

	"github.com/zeebo/errs"

	"geohub.io/geohub/storage"
)

// Error is the metadb error class.
var Error = errs.Class("metadb error")

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errs.Class("document not found")

// ErrAlreadyExists is returned by ConditionalPut when the document exists.
var ErrAlreadyExists = errs.Class("document already exists")

// casRetries bounds optimistic concurrency retries on contended documents.
const casRetries = 100

// DB stores JSON documents in named collections.
type DB struct {
	kv storage.KeyValueStore
}

// New creates a document store backed by kv.
func New(kv storage.KeyValueStore) *DB {
	return &DB{kv: kv}
}

func docKey(collection, id string) storage.Key {
	return storage.Key(collection + "/" + id)
}

// Put marshals doc and stores it under (collection, id), overwriting any
// previous document.
func (db *DB) Put(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(db.kv.Put(docKey(collection, id), data))
}

// Get unmarshals the document stored under (collection, id) into doc.
func (db *DB) Get(collection, id string, doc interface{}) error {
	data, err := db.kv.Get(docKey(collection, id))
	if storage.ErrKeyNotFound.Has(err) {
		return ErrNotFound.New("%s/%s", collection, id)
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(json.Unmarshal(data, doc))
}

// Delete removes the document stored under (collection, id).
func (db *DB) Delete(collection, id string) error {
	err := db.kv.Delete(docKey(collection, id))
	if storage.ErrKeyNotFound.Has(err) {
		return ErrNotFound.New("%s/%s", collection, id)
	}
	return Error.Wrap(err)
}

// List returns up to limit document ids in a collection.
func (db *DB) List(collection string, limit int) ([]string, error) {
	prefix := collection + "/"
	keys, err := db.kv.List(storage.Key(prefix), storage.Limit(limit))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key.String()[len(prefix):])
	}
	return ids, nil
}

// ConditionalPut stores doc under (collection, id) only when no document with
// that id exists yet.
func (db *DB) ConditionalPut(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return Error.Wrap(err)
	}
	err = db.kv.CompareAndSwap(docKey(collection, id), nil, data)
	if storage.ErrValueChanged.Has(err) {
		return ErrAlreadyExists.New("%s/%s", collection, id)
	}
	return Error.Wrap(err)
}

// Update applies modify to the document stored under (collection, id) and
// writes it back atomically. The document is unmarshaled into doc, which
// modify mutates in place. Concurrent writers are retried with fresh reads.
func (db *DB) Update(collection, id string, doc interface{}, modify func() error) error {
	key := docKey(collection, id)

	for i := 0; i < casRetries; i++ {
		old, err := db.kv.Get(key)
		if storage.ErrKeyNotFound.Has(err) {
			return ErrNotFound.New("%s/%s", collection, id)
		}
		if err != nil {
			return Error.Wrap(err)
		}

		if err := json.Unmarshal(old, doc); err != nil {
			return Error.Wrap(err)
		}
		if err := modify(); err != nil {
			return err
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return Error.Wrap(err)
		}

		err = db.kv.CompareAndSwap(key, old, data)
		if storage.ErrValueChanged.Has(err) {
			continue
		}
		return Error.Wrap(err)
	}
	return Error.New("update contention on %s/%s", collection, id)
}

// IncrementCounter atomically adds delta to the named integer field of the
// document stored under (collection, id).
func (db *DB) IncrementCounter(collection, id, field string, delta int64) error {
	key := docKey(collection, id)

	for i := 0; i < casRetries; i++ {
		old, err := db.kv.Get(key)
		if storage.ErrKeyNotFound.Has(err) {
			return ErrNotFound.New("%s/%s", collection, id)
		}
		if err != nil {
			return Error.Wrap(err)
		}

		var fields map[string]interface{}
		if err := json.Unmarshal(old, &fields); err != nil {
			return Error.Wrap(err)
		}

		current, _ := fields[field].(float64)
		fields[field] = int64(current) + delta

		data, err := json.Marshal(fields)
		if err != nil {
			return Error.Wrap(err)
		}

		err = db.kv.CompareAndSwap(key, old, data)
		if storage.ErrValueChanged.Has(err) {
			continue
		}
		return Error.Wrap(err)
	}
	return Error.New("counter contention on %s/%s", collection, id)
}
