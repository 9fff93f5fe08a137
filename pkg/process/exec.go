// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package process provides the shared command line plumbing: configuration
// loading and logging setup.
package process

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
)

// Error is the process error class.
var Error = errs.Class("process error")

// ConfigDir returns the directory for persistent state: configuration,
// the metadata database and the usage log.
func ConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.Println(err)
		return ".geohub"
	}
	return filepath.Join(home, ".geohub")
}

func defaultConfigPath(name string) string {
	if name == "" {
		name = filepath.Base(os.Args[0])
	}
	return filepath.Join(ConfigDir(), fmt.Sprintf("%s.json", name))
}

// Execute runs a *cobra.Command with process-wide configuration: flags can
// come from the command line, the environment (GEOHUB_*) or the config file.
func Execute(cmd *cobra.Command) {
	cfgFile := flag.String("config", defaultConfigPath(cmd.Name()), "config file")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	cobra.OnInitialize(func() {
		_ = viper.BindPFlags(cmd.Flags())
		viper.SetEnvPrefix("geohub")
		viper.AutomaticEnv()
		if *cfgFile != "" {
			viper.SetConfigFile(*cfgFile)
			_ = viper.ReadInConfig()
		}
	})

	Must(cmd.Execute())
}

// Must exits the process on error.
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
