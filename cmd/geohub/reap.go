// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	reapLoop *bool

	reapCmd = &cobra.Command{
		Use:   "reap",
		Short: "reclaim expired upload sessions",
		RunE:  runReap,
	}
)

func init() {
	rootCmd.AddCommand(reapCmd)
	registerStoreFlags(reapCmd)
	reapLoop = reapCmd.Flags().Bool("loop", false, "keep reaping on an interval until interrupted")
}

func runReap(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	env, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.close() }()

	if *reapLoop {
		err := env.service.RunReaper(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	}
	return env.service.ReapExpired(ctx, time.Now())
}
