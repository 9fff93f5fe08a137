// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package datasets holds the dataset, version and file records and the
// store that commits finalized ingestions.
package datasets

import (
	"crypto/rand"
	"regexp"
	"time"

	"github.com/mr-tron/base58/base58"
	"github.com/zeebo/errs"
)

// Error is the datasets error class.
var Error = errs.Class("datasets error")

// ErrNotFound is returned when a dataset does not exist.
var ErrNotFound = errs.Class("dataset not found")

// ErrAlreadyExists is returned when a dataset name is taken by another user.
var ErrAlreadyExists = errs.Class("dataset already exists")

// Validation error classes. These reject a request before any storage I/O.
var (
	ErrNameChars         = errs.Class("name chars validation error")
	ErrNameLength        = errs.Class("name length validation error")
	ErrDescriptionLength = errs.Class("description length validation error")
)

const (
	nameMinLength        = 3
	nameMaxLength        = 15
	descriptionMinLength = 5
	descriptionMaxLength = 50
)

// a name must start with a letter and contain only letters, digits and
// hyphens
var invalidNameChars = regexp.MustCompile(`^[^a-zA-Z]|[^a-zA-Z0-9-]`)

// Dataset is a named, versioned collection of files owned by one user.
type Dataset struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Versions    []Version `json:"versions"`
	Likes       int64     `json:"likes"`
	Downloads   int64     `json:"downloads"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Version is an immutable numbered snapshot of a dataset. SourceUpload
// records the upload session that produced it, which makes finalize commits
// replay-safe.
type Version struct {
	ID           int       `json:"version_id"`
	Size         int64     `json:"size"`
	SourceUpload string    `json:"source_upload"`
	CreatedAt    time.Time `json:"created_at"`
}

// File is one stored file of a dataset, identified by its content checksum.
// Two files with equal checksum and size are the same file: the bytes are
// stored once and referenced by every version in Versions.
type File struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	Versions []int  `json:"versions"`
}

// FileSet is the files document of one dataset.
type FileSet struct {
	DatasetID string `json:"dataset_id"`
	Files     []File `json:"files"`
}

// LatestVersion returns the highest version number, or 0 when the dataset
// has none.
func (dataset *Dataset) LatestVersion() int {
	max := 0
	for _, version := range dataset.Versions {
		if version.ID > max {
			max = version.ID
		}
	}
	return max
}

// VersionByID returns the version with the given number.
func (dataset *Dataset) VersionByID(id int) (Version, bool) {
	for _, version := range dataset.Versions {
		if version.ID == id {
			return version, true
		}
	}
	return Version{}, false
}

// ValidateName checks dataset naming rules: 3-15 chars, starting with a
// letter, containing only letters, digits and hyphens.
func ValidateName(name string) error {
	if invalidNameChars.MatchString(name) {
		return ErrNameChars.New("%q", name)
	}
	if len(name) < nameMinLength || len(name) > nameMaxLength {
		return ErrNameLength.New("name must be between %d and %d characters", nameMinLength, nameMaxLength)
	}
	return nil
}

// ValidateDescription checks the description length rule.
func ValidateDescription(description string) error {
	if len(description) < descriptionMinLength || len(description) > descriptionMaxLength {
		return ErrDescriptionLength.New("description must be between %d and %d characters",
			descriptionMinLength, descriptionMaxLength)
	}
	return nil
}

// NewID generates a random identifier for datasets and sessions.
func NewID() string {
	var id [16]byte
	_, _ = rand.Read(id[:])
	return base58.Encode(id[:])
}

// ObjectKey returns the content addressed storage key of a file.
func ObjectKey(datasetID, checksum string) string {
	return datasetID + "/" + checksum
}
