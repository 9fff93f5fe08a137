// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package redis

import (
	"testing"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/require"

	"geohub.io/geohub/storage/testsuite"
)

func TestSuite(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(server.Addr(), "", 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	testsuite.RunTests(t, client)
}

func TestEscapeMatch(t *testing.T) {
	require.Equal(t, []byte("plain"), escapeMatch([]byte("plain")))
	require.Equal(t, []byte(`pre\*fix`), escapeMatch([]byte("pre*fix")))
	require.Equal(t, []byte(`\[a\]\?\\`), escapeMatch([]byte(`[a]?\`)))
}
