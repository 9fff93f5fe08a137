// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"geohub.io/geohub/internal/memory"
	"geohub.io/geohub/storage"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "list datasets",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(lsCmd)
	registerStoreFlags(lsCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	env, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.close() }()

	ids, err := env.store.List(ctx, int(storage.LookupLimit))
	if err != nil {
		return err
	}

	for _, id := range ids {
		dataset, err := env.store.Get(ctx, id)
		if err != nil {
			return err
		}
		latest, _ := dataset.VersionByID(dataset.LatestVersion())
		fmt.Printf("%-15s v%-3d %8s  %s\n",
			dataset.Name, latest.ID, memory.Size(latest.Size), strings.Join(dataset.Tags, ","))
	}
	return nil
}
