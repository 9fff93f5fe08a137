// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package storage describes key/value stores like redis and boltdb.
package storage

import "github.com/zeebo/errs"

// ErrKeyNotFound is used when a key is not found.
var ErrKeyNotFound = errs.Class("key not found")

// ErrEmptyKey is returned when an empty key is used in Put or Get.
var ErrEmptyKey = errs.Class("empty key")

// ErrValueChanged is returned when the current value of the key does not
// match the expected value in CompareAndSwap.
var ErrValueChanged = errs.Class("value changed")

// Key is the type for the keys in a KeyValueStore.
type Key []byte

// Value is the type for the values in a KeyValueStore.
type Value []byte

// Keys is the type for a slice of keys in a KeyValueStore.
type Keys []Key

// Values is the type for a slice of values in a KeyValueStore.
type Values []Value

// Limit indicates how many keys to return when calling List.
type Limit int

// LookupLimit is the maximum amount of keys returned by a single List.
const LookupLimit = 1000

// KeyValueStore describes a durable key/value store.
//
// CompareAndSwap is the only write primitive the upload session manager
// needs: a nil oldValue asserts the key is absent (conditional insert) and a
// nil newValue deletes the key.
type KeyValueStore interface {
	// Put adds a value to the provided key, returning an error on failure.
	Put(Key, Value) error
	// Get looks up the value for the provided key.
	Get(Key) (Value, error)
	// List returns up to limit keys starting with the given prefix,
	// in ascending order.
	List(prefix Key, limit Limit) (Keys, error)
	// Delete removes the key and its value.
	Delete(Key) error
	// CompareAndSwap atomically changes oldValue to newValue.
	CompareAndSwap(key Key, oldValue, newValue Value) error
	// Close closes the store.
	Close() error
}

// IsZero returns true if the value struct is its zero value.
func (value Value) IsZero() bool { return len(value) == 0 }

// IsZero returns true if the key struct is its zero value.
func (key Key) IsZero() bool { return len(key) == 0 }

// String implements the Stringer interface.
func (key Key) String() string { return string(key) }

// CloneKey creates a copy of key.
func CloneKey(key Key) Key { return append(key[:0:0], key...) }

// CloneValue creates a copy of value.
func CloneValue(value Value) Value { return append(value[:0:0], value...) }
