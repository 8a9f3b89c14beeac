// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatelock/gatelock/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// resolveConfigFile returns the --config value, falling back to the XDG
// default location when the flag is unset.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return xdg.DefaultConfigFile()
}

// NewRootCmd creates the root command for the gatelock CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gatelock",
		Short: "Gatelock - authentication core for network proxies",
		Long: `Gatelock guards the door of a network proxy: it classifies connecting
identities as externally verified or local, drives the interactive
register/login flow, and migrates legacy password hashes on the fly.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
