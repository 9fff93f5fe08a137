// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package testbackend implements an in-memory objectstore.Store with
// failure injection for tests.
package testbackend

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"sync"
	"time"

	"geohub.io/geohub/pkg/objectstore"
)

// Store is an in-memory object storage backend.
type Store struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]*upload
	uploadSeq int

	// FailPutParts makes the next n PutPart calls fail with a transient
	// error.
	FailPutParts int
	// FailComplete makes the next CompleteMultipart call fail.
	FailComplete bool

	PutPartCalls int
	AbortCalls   int
}

type upload struct {
	key   string
	parts map[int][]byte
	etags map[int]string
}

// New creates an empty in-memory backend.
func New() *Store {
	return &Store{
		objects: map[string][]byte{},
		uploads: map[string]*upload{},
	}
}

// CreateMultipart starts a multipart upload for key.
func (store *Store) CreateMultipart(ctx context.Context, key string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.uploadSeq++
	id := fmt.Sprintf("upload-%d", store.uploadSeq)
	store.uploads[id] = &upload{
		key:   key,
		parts: map[int][]byte{},
		etags: map[int]string{},
	}
	return id, nil
}

// PutPart uploads one numbered part.
func (store *Store) PutPart(ctx context.Context, key, uploadID string, partNumber int, data io.Reader, size int64) (objectstore.Part, error) {
	payload, err := ioutil.ReadAll(data)
	if err != nil {
		return objectstore.Part{}, objectstore.Error.Wrap(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.PutPartCalls++
	if store.FailPutParts > 0 {
		store.FailPutParts--
		return objectstore.Part{}, objectstore.ErrTransient.New("injected part failure")
	}

	up, ok := store.uploads[uploadID]
	if !ok || up.key != key {
		return objectstore.Part{}, objectstore.Error.New("no such upload %q", uploadID)
	}

	digest := md5.Sum(payload)
	etag := hex.EncodeToString(digest[:])
	up.parts[partNumber] = payload
	up.etags[partNumber] = etag

	return objectstore.Part{Number: partNumber, ETag: etag, Size: int64(len(payload))}, nil
}

// CompleteMultipart assembles the uploaded parts into an object.
func (store *Store) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objectstore.Part) (objectstore.ObjectRef, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.FailComplete {
		store.FailComplete = false
		return objectstore.ObjectRef{}, objectstore.ErrTransient.New("injected complete failure")
	}

	up, ok := store.uploads[uploadID]
	if !ok || up.key != key {
		return objectstore.ObjectRef{}, objectstore.Error.New("no such upload %q", uploadID)
	}

	numbers := make([]int, 0, len(parts))
	for _, part := range parts {
		stored, ok := up.etags[part.Number]
		if !ok || stored != part.ETag {
			return objectstore.ObjectRef{}, objectstore.Error.New("part %d missing or etag mismatch", part.Number)
		}
		numbers = append(numbers, part.Number)
	}
	sort.Ints(numbers)

	var assembled bytes.Buffer
	for _, number := range numbers {
		assembled.Write(up.parts[number])
	}

	store.objects[key] = assembled.Bytes()
	delete(store.uploads, uploadID)

	return objectstore.ObjectRef{Key: key, Size: int64(assembled.Len())}, nil
}

// AbortMultipart discards an in-flight multipart upload. Aborting an unknown
// upload is not an error.
func (store *Store) AbortMultipart(ctx context.Context, key, uploadID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.AbortCalls++
	delete(store.uploads, uploadID)
	return nil
}

// PutObject stores a small object in a single call.
func (store *Store) PutObject(ctx context.Context, key string, data io.Reader, size int64) (objectstore.ObjectRef, error) {
	payload, err := ioutil.ReadAll(data)
	if err != nil {
		return objectstore.ObjectRef{}, objectstore.Error.Wrap(err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.objects[key] = payload
	return objectstore.ObjectRef{Key: key, Size: int64(len(payload))}, nil
}

// GetObject opens the object for reading.
func (store *Store) GetObject(ctx context.Context, key string) (io.ReadCloser, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	data, ok := store.objects[key]
	if !ok {
		return nil, objectstore.Error.New("no such object %q", key)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

// SignedURL returns a fake download URL for key.
func (store *Store) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.objects[key]; !ok {
		return "", objectstore.Error.New("no such object %q", key)
	}
	return "test://" + key, nil
}

// Object returns the stored bytes for key.
func (store *Store) Object(key string) ([]byte, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	data, ok := store.objects[key]
	return data, ok
}

// PendingUploads returns the number of in-flight multipart uploads.
func (store *Store) PendingUploads() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return len(store.uploads)
}
