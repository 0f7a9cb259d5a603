// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"flag"
	"io"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"gopkg.in/yaml.v3"

	"grimm.is/netinstall/internal/config"
	"grimm.is/netinstall/internal/errors"
)

// RunDump implements 'netinstalld dump': it reads the network state once
// from the configured backend and prints it as YAML.
func RunDump(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	var configPath, backend string
	var timeout time.Duration
	fs.StringVar(&configPath, "c", DefaultConfigPath, "Path to configuration file")
	fs.StringVar(&backend, "backend", "", "Override the configured backend")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the backend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	explicit := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "c" {
			explicit = true
		}
	})

	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	logger := setupLogger(cfg)

	var conn *godbus.Conn
	if cfg.Backend == config.BackendNetworkManager {
		if conn, err = connectBus(cfg.Bus.Kind); err != nil {
			return err
		}
		defer conn.Close()
	}
	adapter, _, err := buildAdapter(cfg, conn, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	state, err := adapter.Read(ctx)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(state); err != nil {
		return errors.Wrap(err, errors.KindInternal, "encode network state")
	}
	return enc.Close()
}
