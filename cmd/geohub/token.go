// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"geohub.io/geohub/pkg/auth"
	"geohub.io/geohub/pkg/process"
)

var tokenCmd = &cobra.Command{
	Use:   "token <uid>",
	Short: "issue an access token for a user",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errs.New("expected exactly one uid")
	}

	dir := process.ConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errs.Wrap(err)
	}

	key, err := loadOrCreateKey(filepath.Join(dir, "auth.key"))
	if err != nil {
		return err
	}

	token, err := auth.NewTokenAuthenticator(key).Issue(args[0])
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
