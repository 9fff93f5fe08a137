// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package chunker decides how a file is split into numbered parts for
// multipart ingestion and computes content checksums.
package chunker

import (
	"github.com/zeebo/errs"

	"geohub.io/geohub/internal/memory"
)

// Error is the chunker error class.
var Error = errs.Class("chunker error")

const (
	// MaxParts is the object storage ceiling on part count per upload.
	MaxParts = 10000
	// MaxPartSize is the object storage ceiling on a single part.
	MaxPartSize = 5 * memory.GiB
)

// size tiers for chunk selection; resumed sessions must recompute the
// identical plan, so these are fixed. The boundaries are decimal on purpose:
// 10000 parts of 10 MiB cover only ~97.7 GiB, so a binary 100 GiB boundary
// would let the smallest tier overflow MaxParts.
const (
	tier100GB = 100 * memory.GB
	tier1TB   = memory.TB
)

// Plan returns the chunk size for a file of the given total size. It is a
// pure function of contentSize: the smallest chunk size from the policy table
// that keeps the part count within MaxParts.
//
//	< 100 GB        10 MiB
//	100 GB - 1 TB   100 MiB
//	>= 1 TB         500 MiB
func Plan(contentSize int64) memory.Size {
	switch {
	case contentSize >= tier1TB.Int64():
		return 500 * memory.MiB
	case contentSize >= tier100GB.Int64():
		return 100 * memory.MiB
	default:
		return 10 * memory.MiB
	}
}

// PartCount returns how many parts a file of totalSize bytes splits into
// with the given chunk size. An empty file still occupies one part.
func PartCount(totalSize, chunkSize int64) int {
	if totalSize <= 0 {
		return 1
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// PartRange returns the byte offset and length of 1-based part number in a
// file of totalSize bytes. The last part may be short.
func PartRange(totalSize, chunkSize int64, partNumber int) (offset, length int64, err error) {
	count := PartCount(totalSize, chunkSize)
	if partNumber < 1 || partNumber > count {
		return 0, 0, Error.New("part number %d out of range 1..%d", partNumber, count)
	}

	offset = int64(partNumber-1) * chunkSize
	length = chunkSize
	if remaining := totalSize - offset; remaining < length {
		length = remaining
	}
	if length < 0 {
		length = 0
	}
	return offset, length, nil
}
