// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon's YAML configuration (spec §6.6, --cfg):
// which interfaces to attach ingress/egress hooks to, where the control and
// log fan-out sockets live, and where persistent and optional search-index
// state is kept.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/flywall/internal/errors"
)

// Config is the top-level daemon configuration document.
type Config struct {
	// Interfaces names every NIC to attach both hooks to (spec §6.1).
	Interfaces []string `yaml:"interfaces"`

	ControlSocket string `yaml:"control_socket"`
	LogSocket     string `yaml:"log_socket"`

	// Database is the SQLite DSN path for the persistent rule store (spec
	// §6.4). Empty disables persistence: rules come from --rules only.
	Database string `yaml:"database"`

	// SearchIndexURL, if set, is the endpoint log records are POSTed to
	// (spec §6.5). Empty disables indexing.
	SearchIndexURL string `yaml:"search_index_url"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	// MetricsAddr, if set, serves Prometheus metrics at this address
	// (e.g. ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "reading config file %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "parsing config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects a configuration missing the fields every deployment needs.
func (c *Config) Validate() error {
	if len(c.Interfaces) == 0 {
		return errors.New(errors.KindValidation, "config: at least one interface is required")
	}
	if c.ControlSocket == "" {
		return errors.New(errors.KindValidation, "config: control_socket is required")
	}
	if c.LogSocket == "" {
		return errors.New(errors.KindValidation, "config: log_socket is required")
	}
	return nil
}
