// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in       string
		expected Size
	}{
		{"0", 0},
		{"1", 1 * B},
		{"512 B", 512 * B},
		{"1KiB", 1 * KiB},
		{"10 MiB", 10 * MiB},
		{"100MB", 100 * MiB},
		{"5GiB", 5 * GiB},
		{"1.5 GiB", 1536 * MiB},
		{"2TiB", 2 * TiB},
	}

	for _, test := range tests {
		size, err := Parse(test.in)
		require.NoError(t, err, test.in)
		assert.Equal(t, test.expected, size, test.in)
	}

	_, err := Parse("bogus")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "0", Size(0).String())
	assert.Equal(t, "512 B", (512 * B).String())
	assert.Equal(t, "10.0 MiB", (10 * MiB).String())
	assert.Equal(t, "5.0 GiB", (5 * GiB).String())
}
