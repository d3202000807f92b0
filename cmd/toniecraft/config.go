// toniecraft - page-accurate audio container tooling for Toniebox figurines.
// Copyright (C) 2026 the toniecraft contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// config holds the optional defaults a user can keep in toniecraft.yaml.
// Command-line flags always win over config values.
type config struct {
	LogLevel  string `yaml:"log_level"`
	OutputDir string `yaml:"output_dir"`
}

// loadConfig reads the config file. With no explicit path, the default
// location is consulted and a missing file is not an error.
func loadConfig(path string) (*config, error) {
	explicit := path != ""
	if !explicit {
		confDir, err := os.UserConfigDir()
		if err != nil {
			return &config{}, nil
		}
		path = filepath.Join(confDir, "toniecraft", "toniecraft.yaml")
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return &config{}, nil
	} else if err != nil {
		return nil, err
	}

	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}
