// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	godbus "github.com/godbus/dbus/v5"

	"grimm.is/netinstall/internal/api"
	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/events"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/metrics"
	"grimm.is/netinstall/internal/network/dbus"
	"grimm.is/netinstall/internal/network/nm"
	"grimm.is/netinstall/internal/network/system"
	"grimm.is/netinstall/internal/services"
)

// RunServe implements 'netinstalld serve': it publishes the network tree on
// the bus and runs until interrupted.
func RunServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var configPath string
	fs.StringVar(&configPath, "c", DefaultConfigPath, "Path to configuration file")
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
	logger := setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := connectBus(cfg.Bus.Kind)
	if err != nil {
		return err
	}
	defer conn.Close()

	reply, err := conn.RequestName(cfg.Bus.ServiceName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "request bus name %s", cfg.Bus.ServiceName)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return errors.Errorf(errors.KindConflict, "bus name %s is already taken", cfg.Bus.ServiceName)
	}

	registry := metrics.Get()
	var sender events.Sender = events.SenderFunc(func(e events.Event) {
		logger.Debug("Network event", "type", string(e.Type), "id", e.ID, "device", e.Device)
	})
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(logger, 0)
		sender = events.Multi{sender, hub}
	}

	adapter, nmAdapter, err := buildAdapter(cfg, conn, logger)
	if err != nil {
		return err
	}

	tree := dbus.NewTree(conn, dbus.TreeOptions{
		CallTimeout: cfg.CallTimeout(),
		Metrics:     registry,
		Logger:      logger,
	})
	sys := system.New(adapter, tree, system.Options{
		QueueSize:      cfg.ActionQueue,
		RebuildTimeout: cfg.RebuildTimeout(),
		Events:         sender,
		Metrics:        registry,
		Logger:         logger,
	})
	if err := tree.Bind(sys.Client()); err != nil {
		return err
	}

	svcs := []services.Service{sys}
	if nmAdapter != nil {
		svcs = append(svcs, nm.NewWatcher(conn, nmAdapter, sys.Client(), nm.WatcherOptions{
			Events:  sender,
			Metrics: registry,
			Logger:  logger,
		}))
	}
	if cfg.API.Enabled {
		collector := metrics.NewCollector(registry, sys.Client(), logger, cfg.CollectInterval())
		svcs = append(svcs, collector, api.NewServer(api.ServerOptions{
			Listen:    cfg.API.Listen,
			State:     sys.Client(),
			Hub:       hub,
			Metrics:   registry,
			Collector: collector,
			Logger:    logger,
		}))
	}

	logger.Info("Serving network configuration",
		"service", cfg.Bus.ServiceName, "backend", cfg.Backend, "bus", cfg.Bus.Kind)
	if err := services.RunAll(ctx, logger, svcs...); err != nil {
		return err
	}
	logging.Info("Shut down")
	return nil
}
