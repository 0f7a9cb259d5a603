// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon configuration from an HCL (or JSON) file.
package config

import (
	"time"
)

const (
	BackendNetworkManager = "networkmanager"
	BackendKernel         = "kernel"
	BackendMemory         = "memory"

	BusSystem  = "system"
	BusSession = "session"
)

// Config is the daemon configuration.
type Config struct {
	LogLevel string `hcl:"log_level,optional" json:"log_level,omitempty"`
	LogJSON  bool   `hcl:"log_json,optional" json:"log_json,omitempty"`

	// Backend selects what the network system reads and writes:
	// "networkmanager", "kernel" (read-only) or "memory" (dry run).
	Backend string `hcl:"backend,optional" json:"backend,omitempty"`

	// ActionQueue is the capacity of the control loop's action queue.
	ActionQueue int `hcl:"action_queue,optional" json:"action_queue,omitempty"`

	Bus  *BusConfig  `hcl:"bus,block" json:"bus,omitempty"`
	Tree *TreeConfig `hcl:"tree,block" json:"tree,omitempty"`
	API  *APIConfig  `hcl:"api,block" json:"api,omitempty"`
}

// BusConfig selects the message bus and the names used on it.
type BusConfig struct {
	Kind                  string `hcl:"kind,optional" json:"kind,omitempty"`
	ServiceName           string `hcl:"service_name,optional" json:"service_name,omitempty"`
	NetworkManagerService string `hcl:"network_manager_service,optional" json:"network_manager_service,omitempty"`
}

// TreeConfig tunes the published object tree.
type TreeConfig struct {
	// RebuildTimeout bounds how long callers wait for the tree to catch up
	// after an apply.
	RebuildTimeout string `hcl:"rebuild_timeout,optional" json:"rebuild_timeout,omitempty"`
	// CallTimeout bounds a bus call into the control loop.
	CallTimeout string `hcl:"call_timeout,optional" json:"call_timeout,omitempty"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Enabled         bool   `hcl:"enabled,optional" json:"enabled,omitempty"`
	Listen          string `hcl:"listen,optional" json:"listen,omitempty"`
	CollectInterval string `hcl:"collect_interval,optional" json:"collect_interval,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Backend == "" {
		c.Backend = BackendNetworkManager
	}
	if c.ActionQueue == 0 {
		c.ActionQueue = 64
	}
	if c.Bus == nil {
		c.Bus = &BusConfig{}
	}
	if c.Bus.Kind == "" {
		c.Bus.Kind = BusSystem
	}
	if c.Bus.ServiceName == "" {
		c.Bus.ServiceName = "is.grimm.NetInstall1"
	}
	if c.Bus.NetworkManagerService == "" {
		c.Bus.NetworkManagerService = "org.freedesktop.NetworkManager"
	}
	if c.Tree == nil {
		c.Tree = &TreeConfig{}
	}
	if c.Tree.RebuildTimeout == "" {
		c.Tree.RebuildTimeout = "10s"
	}
	if c.Tree.CallTimeout == "" {
		c.Tree.CallTimeout = "30s"
	}
	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8089"
	}
	if c.API.CollectInterval == "" {
		c.API.CollectInterval = "30s"
	}
}

// RebuildTimeout returns the parsed tree rebuild timeout. Validate reports
// a malformed value; here it falls back to zero, which means the default.
func (c *Config) RebuildTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Tree.RebuildTimeout)
	return d
}

func (c *Config) CallTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Tree.CallTimeout)
	return d
}

func (c *Config) CollectInterval() time.Duration {
	d, _ := time.ParseDuration(c.API.CollectInterval)
	return d
}
