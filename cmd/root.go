// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmd wires the cobra/viper CLI for the maestro binary, adapted
// from the teacher's own rootCmd/initConfig pattern (cfg.BindFlags +
// viper layering flags/env/YAML into one cfg.Config) but driving a
// kernel boot sequence instead of a FUSE mount.
package cmd

import (
	"fmt"
	"os"

	"github.com/maestro-os/maestro/cfg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	bootConfig    cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "maestro boot [manifest.yaml]",
	Short: "Boot the maestro kernel simulation against a YAML manifest",
	Long: `maestro boots the kernel's subsystems (memory, VFS, scheduler,
process table, syscall dispatch, net/block/module registries) the way a
real bootloader hands off to kernel_main, and creates the init process
(PID 1). The manifest's boot.init key is recorded in the boot log but the
program it names is not loaded or executed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if len(args) == 1 {
			viper.SetConfigFile(args[0])
			viper.SetConfigType("yaml")
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("reading boot manifest: %w", err)
			}
			if err := viper.Unmarshal(&bootConfig); err != nil {
				return fmt.Errorf("decoding boot manifest: %w", err)
			}
		}
		_, err := Boot(bootConfig)
		return err
	},
}

// Execute runs the root command, exiting the process with status 1 on
// failure — mirroring the teacher's own Execute().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a boot manifest, as an alternative to the positional argument")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&bootConfig)
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&bootConfig)
}
