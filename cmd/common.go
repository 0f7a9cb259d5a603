// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"os"

	godbus "github.com/godbus/dbus/v5"

	"grimm.is/netinstall/internal/config"
	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/kernel"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/network/nm"
	"grimm.is/netinstall/internal/network/system"
)

// DefaultConfigPath is read when no -c flag is given. A missing file there
// means the built-in defaults.
const DefaultConfigPath = "/etc/netinstall/netinstall.hcl"

func loadConfig(path string, explicit bool) (*config.Config, error) {
	if !explicit {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.LoadFile(path)
}

// setupLogger builds the process logger from cfg and makes it the default.
func setupLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Output: os.Stderr,
		JSON:   cfg.LogJSON,
	})
	logging.SetDefault(logger)
	return logger
}

func connectBus(kind string) (*godbus.Conn, error) {
	var conn *godbus.Conn
	var err error
	if kind == config.BusSession {
		conn, err = godbus.ConnectSessionBus()
	} else {
		conn, err = godbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "connect to the %s bus", kind)
	}
	return conn, nil
}

// buildAdapter returns the adapter for the configured backend. The network
// manager adapter is also returned on its own so that a watcher can follow
// it; it is nil for the other backends.
func buildAdapter(cfg *config.Config, conn *godbus.Conn, logger *logging.Logger) (system.Adapter, *nm.Adapter, error) {
	switch cfg.Backend {
	case config.BackendNetworkManager:
		if conn == nil {
			return nil, nil, errors.New(errors.KindUnavailable, "the networkmanager backend needs a bus")
		}
		a := nm.NewAdapter(nm.NewBusCaller(conn, cfg.Bus.NetworkManagerService), logger)
		return a, a, nil
	case config.BackendKernel:
		return kernel.NewNetlinkAdapter(nil, logger), nil, nil
	case config.BackendMemory:
		return kernel.NewMemoryAdapter(nil), nil, nil
	}
	return nil, nil, errors.Errorf(errors.KindValidation, "unknown backend %q", cfg.Backend)
}
