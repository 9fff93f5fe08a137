// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"geohub.io/geohub/internal/memory"
)

var downloadCmd = &cobra.Command{
	Use:   "download <dataset> [version]",
	Short: "print the download plan of a dataset version",
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
	registerStoreFlags(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errs.New("expected a dataset name and an optional version")
	}

	version := 0
	if len(args) == 2 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return errs.New("malformed version %q", args[1])
		}
		version = parsed
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	env, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.close() }()

	dataset, err := env.store.GetByName(ctx, args[0])
	if err != nil {
		return err
	}

	plan, err := env.store.DownloadPlan(ctx, dataset.ID, version)
	if err != nil {
		return err
	}

	fmt.Printf("dataset %s version %d\n", dataset.Name, plan.Version)
	for _, file := range plan.Files {
		fmt.Printf("  %s (%s)\n    %s\n", file.Filename, memory.Size(file.Size), file.URL)
	}
	return nil
}
