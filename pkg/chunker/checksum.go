// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Checksum returns the hex encoded SHA-256 digest of data.
func Checksum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// FileChecksum streams the file at path through SHA-256 and returns the hex
// encoded digest. This is the whole-file pass that identifies an upload
// session, so it runs before any session is created.
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", Error.Wrap(err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
