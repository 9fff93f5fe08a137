// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Geohub is a single node dataset hub with resumable chunked ingestion.
package main

import (
	"github.com/spf13/cobra"

	"geohub.io/geohub/pkg/process"
)

var rootCmd = &cobra.Command{
	Use:   "geohub",
	Short: "versioned dataset hub with resumable ingestion",
}

func main() {
	process.Execute(rootCmd)
}
