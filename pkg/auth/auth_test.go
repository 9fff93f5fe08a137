// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geohub.io/geohub/pkg/auth"
)

func TestTokenRoundtrip(t *testing.T) {
	ctx := context.Background()
	authenticator := auth.NewTokenAuthenticator(auth.NewKey())

	token, err := authenticator.Issue("alice")
	require.NoError(t, err)

	uid, err := authenticator.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)
}

func TestTokenRejected(t *testing.T) {
	ctx := context.Background()
	authenticator := auth.NewTokenAuthenticator(auth.NewKey())

	token, err := authenticator.Issue("alice")
	require.NoError(t, err)

	for _, credential := range []string{
		"",
		"alice",
		".mac",
		"alice.not-valid-base58-0OIl",
		"bob" + token[len("alice"):],
	} {
		_, err := authenticator.Authenticate(ctx, credential)
		assert.True(t, auth.ErrUnauthorized.Has(err), credential)
	}

	// tokens do not survive a key rotation
	rotated := auth.NewTokenAuthenticator(auth.NewKey())
	_, err = rotated.Authenticate(ctx, token)
	assert.True(t, auth.ErrUnauthorized.Has(err))
}

func TestIssueValidation(t *testing.T) {
	authenticator := auth.NewTokenAuthenticator(auth.NewKey())

	_, err := authenticator.Issue("")
	assert.Error(t, err)
	_, err = authenticator.Issue("a.b")
	assert.Error(t, err)
}
