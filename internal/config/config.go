// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon's HCL configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"grimm.is/bmcnetd/internal/logging"
)

// DefaultPath is the daemon configuration file location.
const DefaultPath = "/etc/bmcnetd/bmcnetd.hcl"

// LLDP controls lldpd config emission.
type LLDP struct {
	Enabled    bool   `hcl:"enabled,optional"`
	ConfigPath string `hcl:"config_path,optional"`
	Service    string `hcl:"service,optional"`
}

// Config is the daemon configuration.
type Config struct {
	// ConfDir is where per-interface network files are materialised and
	// where the link supervisor reads them from.
	ConfDir string `hcl:"config_dir,optional"`

	// ObjectPath is the management bus object root.
	ObjectPath string `hcl:"object_path,optional"`

	// BusName is the well-known name requested at startup. Empty means
	// run without claiming a name (useful outside the target image).
	BusName string `hcl:"bus_name,optional"`

	// IgnoreInterfaces lists interface names that are never managed.
	// Membership is decided at first sight and not revisited.
	IgnoreInterfaces []string `hcl:"ignore_interfaces,optional"`

	// ReloadQuietPeriod is the debounce window before a supervisor
	// reload, as a Go duration string.
	ReloadQuietPeriod string `hcl:"reload_quiet_period,optional"`

	LogLevel    string `hcl:"log_level,optional"`
	LogJSON     bool   `hcl:"log_json,optional"`
	MetricsAddr string `hcl:"metrics_addr,optional"`

	LLDP   *LLDP                 `hcl:"lldp,block"`
	Syslog *logging.SyslogConfig `hcl:"syslog,block"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		ConfDir:           "/etc/systemd/network",
		ObjectPath:        "/xyz/openbmc_project/network",
		BusName:           "xyz.openbmc_project.Network",
		ReloadQuietPeriod: "3s",
		LogLevel:          "info",
	}
}

// Load reads the configuration from path. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.ConfDir == "" {
		c.ConfDir = "/etc/systemd/network"
	}
	if c.ObjectPath == "" {
		c.ObjectPath = "/xyz/openbmc_project/network"
	}
	if c.ReloadQuietPeriod == "" {
		c.ReloadQuietPeriod = "3s"
	}
	if _, err := time.ParseDuration(c.ReloadQuietPeriod); err != nil {
		return fmt.Errorf("reload_quiet_period: %w", err)
	}
	if c.LLDP != nil {
		if c.LLDP.ConfigPath == "" {
			c.LLDP.ConfigPath = "/etc/lldpd.conf"
		}
		if c.LLDP.Service == "" {
			c.LLDP.Service = "lldpd.service"
		}
	}
	return nil
}

// QuietPeriod returns the parsed debounce window.
func (c *Config) QuietPeriod() time.Duration {
	d, err := time.ParseDuration(c.ReloadQuietPeriod)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// IgnoredNames returns the ignore list as a set.
func (c *Config) IgnoredNames() map[string]struct{} {
	set := make(map[string]struct{}, len(c.IgnoreInterfaces))
	for _, name := range c.IgnoreInterfaces {
		set[name] = struct{}{}
	}
	return set
}
