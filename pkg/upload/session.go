// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package upload implements resumable chunked ingestion sessions.
package upload

import (
	"time"

	"github.com/zeebo/errs"

	"geohub.io/geohub/pkg/chunker"
)

// Error is the upload error class.
var Error = errs.Class("upload error")

// ErrNotFound is returned when an upload session does not exist.
var ErrNotFound = errs.Class("upload session not found")

// ErrChecksumMismatch is returned when a part's bytes do not match the
// checksum the client declared for them.
var ErrChecksumMismatch = errs.Class("checksum mismatch")

// ErrFinalize is returned when a session cannot be completed yet.
var ErrFinalize = errs.Class("finalize error")

// State is the lifecycle state of an upload session.
type State string

const (
	// StateCreated means the session exists but no part has arrived.
	StateCreated State = "created"
	// StatePartsPending means at least one part has been stored.
	StatePartsPending State = "parts-pending"
	// StateFinalizing means Complete has started assembling the object.
	StateFinalizing State = "finalizing"
	// StatePersisted means the dataset version is durable metadata.
	StatePersisted State = "persisted"
	// StateFailed means the last finalize attempt failed. The received
	// parts are retained and the session stays resumable.
	StateFailed State = "failed"
)

// Session is the durable record of one resumable ingestion. Everything a
// client or a restarted server needs to continue lives here.
type Session struct {
	UploadID    string         `json:"upload_id"`
	UID         string         `json:"uid"`
	DatasetID   string         `json:"dataset_id"`
	DatasetName string         `json:"dataset_name"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Filename    string         `json:"filename"`
	Checksum    string         `json:"checksum"`
	TotalSize   int64          `json:"total_size"`
	ChunkSize   int64          `json:"chunk_size"`
	BackendID   string         `json:"backend_id"`
	ObjectKey   string         `json:"object_key"`
	ObjectETag  string         `json:"object_etag"`
	Parts       map[int]string `json:"parts"`
	State       State          `json:"state"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// PartCount returns how many parts the session expects.
func (session *Session) PartCount() int {
	return chunker.PartCount(session.TotalSize, session.ChunkSize)
}

// Received reports whether a part has already been stored.
func (session *Session) Received(partNumber int) bool {
	_, ok := session.Parts[partNumber]
	return ok
}

// MissingParts returns the part numbers that have not arrived yet, in order.
func (session *Session) MissingParts() []int {
	var missing []int
	for part := 1; part <= session.PartCount(); part++ {
		if !session.Received(part) {
			missing = append(missing, part)
		}
	}
	return missing
}
