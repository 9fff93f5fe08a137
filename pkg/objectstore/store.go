// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package objectstore defines the contract with the object storage backend
// holding dataset bytes.
package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/zeebo/errs"
)

// Error is the object storage error class.
var Error = errs.Class("objectstore error")

// ErrTransient wraps backend failures that are worth retrying (timeouts,
// throttling, 5xx). Anything else aborts the operation.
var ErrTransient = errs.Class("transient objectstore error")

// Part identifies one uploaded part of a multipart upload.
type Part struct {
	Number int
	ETag   string
	Size   int64
}

// ObjectRef points at a durably stored object.
type ObjectRef struct {
	Key  string
	ETag string
	Size int64
}

// Store is the storage backend adapter. Implementations must tolerate
// repeated AbortMultipart calls for the same upload.
type Store interface {
	// CreateMultipart starts a multipart upload for key and returns the
	// backend upload id.
	CreateMultipart(ctx context.Context, key string) (string, error)
	// PutPart uploads one numbered part.
	PutPart(ctx context.Context, key, uploadID string, partNumber int, data io.Reader, size int64) (Part, error)
	// CompleteMultipart assembles the uploaded parts into an object.
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []Part) (ObjectRef, error)
	// AbortMultipart discards an in-flight multipart upload.
	AbortMultipart(ctx context.Context, key, uploadID string) error

	// PutObject stores a small object in a single call.
	PutObject(ctx context.Context, key string, data io.Reader, size int64) (ObjectRef, error)
	// GetObject opens the object for reading.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	// SignedURL returns a pre-signed download URL for key.
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// IsTransient reports whether err is worth retrying at the part level.
func IsTransient(err error) bool {
	return ErrTransient.Has(err)
}
