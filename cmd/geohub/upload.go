// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/cheggaaa/pb"
	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"geohub.io/geohub/pkg/uploader"
)

var (
	uploadCfg = struct {
		name        *string
		description *string
		tags        *[]string
		parallelism *int
	}{}

	uploadCmd = &cobra.Command{
		Use:   "upload <path>",
		Short: "ingest a file as a new dataset version",
		RunE:  runUpload,
	}
)

func init() {
	rootCmd.AddCommand(uploadCmd)
	registerStoreFlags(uploadCmd)

	flags := uploadCmd.Flags()
	uploadCfg.name = flags.String("name", "", "dataset name")
	uploadCfg.description = flags.String("description", "", "dataset description")
	uploadCfg.tags = flags.StringSlice("tag", nil, "dataset tag, repeatable")
	uploadCfg.parallelism = flags.Int("parallelism", runtime.NumCPU(), "concurrent part transfers")
}

func runUpload(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errs.New("expected exactly one path to upload")
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	env, err := openEnv(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.close() }()

	info, err := os.Stat(args[0])
	if err != nil {
		return errs.Wrap(err)
	}

	bar := pb.New64(info.Size()).SetUnits(pb.U_BYTES)
	bar.Start()
	defer bar.Finish()

	up := uploader.New(env.log, env.service)
	up.Transfers = *uploadCfg.parallelism

	result, err := up.Upload(ctx, env.uid, args[0], uploader.Options{
		Name:        *uploadCfg.name,
		Description: *uploadCfg.description,
		Tags:        *uploadCfg.tags,
		Progress: func(n int64) {
			bar.Add64(n)
		},
	})
	if err != nil {
		if len(result.MissingParts) > 0 {
			fmt.Printf("upload %s is incomplete, missing parts %v; rerun to resume\n",
				result.UploadID, result.MissingParts)
		}
		return err
	}

	fmt.Printf("dataset %s is at version %d\n", result.Dataset.Name, result.Dataset.LatestVersion())
	return nil
}
