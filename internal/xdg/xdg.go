// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bastion Contributors

// Package xdg locates bastion's files under the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const (
	appName    = "bastion"
	configName = "config.yaml"
)

// ConfigDir returns the bastion config directory.
// XDG_CONFIG_HOME wins; otherwise ~/.config is used.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the default config file path.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), configName)
}

// ExistingConfigFile returns ConfigFile when a regular file is present there,
// and "" otherwise.
func ExistingConfigFile() string {
	path := ConfigFile()
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
