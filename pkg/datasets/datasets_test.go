// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package datasets_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"geohub.io/geohub/pkg/datasets"
)

func TestValidateName(t *testing.T) {
	for _, tt := range []struct {
		name  string
		check func(error) bool
	}{
		{"abc", nil},
		{"eurosat-rgb", nil},
		{"Abc123", nil},
		{"a23456789012345", nil},
		{"ab", datasets.ErrNameLength.Has},
		{"a234567890123456", datasets.ErrNameLength.Has},
		{"2abc", datasets.ErrNameChars.Has},
		{"-abc", datasets.ErrNameChars.Has},
		{"ab c", datasets.ErrNameChars.Has},
		{"ab_c", datasets.ErrNameChars.Has},
		// character rules are checked before length
		{"_", datasets.ErrNameChars.Has},
		{"", datasets.ErrNameLength.Has},
	} {
		err := datasets.ValidateName(tt.name)
		if tt.check == nil {
			assert.NoError(t, err, tt.name)
		} else {
			assert.Error(t, err, tt.name)
			assert.True(t, tt.check(err), tt.name)
		}
	}
}

func TestValidateDescription(t *testing.T) {
	assert.NoError(t, datasets.ValidateDescription("short blurb"))
	assert.True(t, datasets.ErrDescriptionLength.Has(datasets.ValidateDescription("tiny")))

	long := make([]byte, 51)
	for i := range long {
		long[i] = 'x'
	}
	assert.True(t, datasets.ErrDescriptionLength.Has(datasets.ValidateDescription(string(long))))
}

func TestVersionLookup(t *testing.T) {
	dataset := datasets.Dataset{
		Versions: []datasets.Version{{ID: 1}, {ID: 3}, {ID: 2}},
	}
	assert.Equal(t, 3, dataset.LatestVersion())

	version, ok := dataset.VersionByID(2)
	assert.True(t, ok)
	assert.Equal(t, 2, version.ID)

	_, ok = dataset.VersionByID(4)
	assert.False(t, ok)

	empty := datasets.Dataset{}
	assert.Equal(t, 0, empty.LatestVersion())
}

func TestNewID(t *testing.T) {
	a, b := datasets.NewID(), datasets.NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
