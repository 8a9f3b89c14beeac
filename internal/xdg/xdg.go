// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

// Package xdg provides XDG Base Directory paths for gatelock.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "gatelock"

// ConfigDir returns the XDG config directory for gatelock.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of the default config file, or "" when
// no file exists there.
func DefaultConfigFile() string {
	path := filepath.Join(ConfigDir(), "gatelock.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
