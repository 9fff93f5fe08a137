// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package auth resolves request credentials to user ids.
package auth

import (
	"context"
	"strings"

	"github.com/gtank/cryptopasta"
	"github.com/mr-tron/base58/base58"
	"github.com/zeebo/errs"
)

// Error is the auth error class.
var Error = errs.Class("auth error")

// ErrUnauthorized is returned for credentials that do not resolve to a user.
var ErrUnauthorized = errs.Class("unauthorized")

// Authenticator resolves a credential to the uid it stands for.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (uid string, err error)
}

// TokenAuthenticator authenticates self-contained HMAC tokens of the form
// "<uid>.<mac>". It needs no user database round trip, which fits
// single-node deployments.
type TokenAuthenticator struct {
	key *[32]byte
}

// NewTokenAuthenticator creates an authenticator with the given key.
func NewTokenAuthenticator(key *[32]byte) *TokenAuthenticator {
	return &TokenAuthenticator{key: key}
}

// NewKey generates a random token signing key.
func NewKey() *[32]byte {
	return cryptopasta.NewHMACKey()
}

// Issue creates a token for uid.
func (auth *TokenAuthenticator) Issue(uid string) (string, error) {
	if uid == "" {
		return "", Error.New("empty uid")
	}
	if strings.Contains(uid, ".") {
		return "", Error.New("uid %q contains a separator", uid)
	}
	mac := cryptopasta.GenerateHMAC([]byte(uid), auth.key)
	return uid + "." + base58.Encode(mac), nil
}

// Authenticate implements Authenticator.
func (auth *TokenAuthenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", Error.Wrap(err)
	}

	sep := strings.LastIndex(credential, ".")
	if sep <= 0 {
		return "", ErrUnauthorized.New("malformed token")
	}
	uid := credential[:sep]

	mac, err := base58.Decode(credential[sep+1:])
	if err != nil {
		return "", ErrUnauthorized.New("malformed token")
	}
	if !cryptopasta.CheckHMAC([]byte(uid), mac, auth.key) {
		return "", ErrUnauthorized.New("bad signature")
	}
	return uid, nil
}
