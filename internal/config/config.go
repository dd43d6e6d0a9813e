// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the agent's HCL configuration file: which ports to
// listen on, which hosts are whitelisted, where the TLS material and
// packet-filter binary live, and the defaults the command engine falls back
// to.
package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/rfw/internal/errors"
)

// Config is the root of the HCL configuration file.
type Config struct {
	IptablesPath  string   `hcl:"iptables_path,optional"`
	Whitelist     []string `hcl:"whitelist"`
	DefaultExpire string   `hcl:"default_expire,optional"`
	// NonRestful, when true, lets a GET request's modify=insert|delete query
	// parameter override the verb-derived modify code — a deliberate
	// non-REST escape hatch for clients that can't issue PUT/DELETE.
	NonRestful bool `hcl:"non_restful,optional"`

	Local   *LocalListener   `hcl:"local,block"`
	Outward *OutwardListener `hcl:"outward,block"`
	Logging *LoggingConfig   `hcl:"logging,block"`
}

// LocalListener configures the loopback, unauthenticated front end.
type LocalListener struct {
	Enabled bool   `hcl:"enabled,optional"`
	Listen  string `hcl:"listen,optional"`
}

// OutwardListener configures the TLS+BasicAuth front end.
type OutwardListener struct {
	Enabled  bool   `hcl:"enabled,optional"`
	Listen   string `hcl:"listen,optional"`
	CertFile string `hcl:"cert_file"`
	KeyFile  string `hcl:"key_file"`
	Username string `hcl:"username"`
	Password string `hcl:"password"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level    string `hcl:"level,optional"`
	JSON     bool   `hcl:"json,optional"`
	FilePath string `hcl:"file_path,optional"`
}

// Default returns a Config with the same effective defaults
// create_args_parser/rfwconfig applied in the original: local server enabled
// on 127.0.0.1:7866, outward disabled until TLS material is configured, INFO
// logging to stderr only.
func Default() Config {
	return Config{
		IptablesPath: "/sbin/iptables",
		Local:        &LocalListener{Enabled: true, Listen: "127.0.0.1:7866"},
		Outward:      &OutwardListener{Enabled: false, Listen: "0.0.0.0:7865"},
		Logging:      &LoggingConfig{Level: "info"},
	}
}

// Load reads and decodes the HCL file at path, then fills in any block the
// file omitted with its Default() counterpart.
func Load(path string) (Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, errors.KindValidation, "loading config file %s", path)
	}

	defaults := Default()
	if cfg.IptablesPath == "" {
		cfg.IptablesPath = defaults.IptablesPath
	}
	if cfg.Local == nil {
		cfg.Local = defaults.Local
	}
	if cfg.Outward == nil {
		cfg.Outward = defaults.Outward
	}
	if cfg.Logging == nil {
		cfg.Logging = defaults.Logging
	} else if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	return cfg, nil
}
