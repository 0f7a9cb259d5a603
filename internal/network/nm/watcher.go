// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/events"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/metrics"
	"grimm.is/netinstall/internal/network/model"
)

// Dispatcher is how the watcher feeds changes into the control loop.
type Dispatcher interface {
	AddDevice(ctx context.Context, dev *model.Device) error
	UpdateDevice(ctx context.Context, name string, dev *model.Device) error
	RemoveDevice(ctx context.Context, name string) error
	NewConnection(ctx context.Context, conn *model.Connection) error
	ForgetConnection(ctx context.Context, id uuid.UUID) error
}

// Watcher keeps the control loop in sync with changes made behind its back:
// hotplugged devices, DHCP leases, connections edited by other clients.
type Watcher struct {
	adapter  *Adapter
	proxies  *ProxiesRegistry
	streams  []*Stream
	actions  Dispatcher
	sender   events.Sender
	registry *metrics.Registry
	logger   *logging.Logger
}

// WatcherOptions holds the optional collaborators of a Watcher.
type WatcherOptions struct {
	Events  events.Sender
	Metrics *metrics.Registry
	Logger  *logging.Logger
	Proxies *ProxiesRegistry
	Streams []*Stream
}

// NewWatcher wires the three change streams of source to actions.
func NewWatcher(source SignalSource, adapter *Adapter, actions Dispatcher, opts WatcherOptions) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	sender := opts.Events
	if sender == nil {
		sender = events.Discard
	}
	proxies := opts.Proxies
	if proxies == nil {
		proxies = NewProxiesRegistry(adapter.caller)
	}
	streams := opts.Streams
	if streams == nil {
		streams = []*Stream{
			NewConnectionsStream(source, logger),
			NewActiveConnectionsStream(source, logger),
			NewDevicesStream(source, logger),
		}
	}
	return &Watcher{
		adapter:  adapter,
		proxies:  proxies,
		streams:  streams,
		actions:  actions,
		sender:   sender,
		registry: opts.Metrics,
		logger:   logger.WithComponent("nm-watcher"),
	}
}

func (w *Watcher) Name() string { return "nm-watcher" }

// Run starts the streams and handles their events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.proxies.Load(ctx); err != nil {
		w.logger.Warn("cannot preload devices", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	changes := make(chan ChangeEvent, 32)
	for _, s := range w.streams {
		g.Go(func() error { return s.Run(ctx, changes) })
	}
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-changes:
				if err := w.Handle(ctx, ev); err != nil {
					w.logger.Warn("could not handle change", "kind", ev.Kind.String(), "path", ev.Path, "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// Handle applies one change event.
func (w *Watcher) Handle(ctx context.Context, ev ChangeEvent) error {
	w.registry.ObserveChange(ev.Kind.String())
	w.logger.Debug("change", "kind", ev.Kind.String(), "path", ev.Path)

	switch ev.Kind {
	case DeviceAdded:
		return w.deviceAdded(ctx, ev.Path)
	case DeviceUpdated:
		return w.deviceUpdated(ctx, ev.Path)
	case DeviceRemoved:
		return w.deviceRemoved(ctx, ev.Path)
	case IP4ConfigChanged, IP6ConfigChanged:
		proxy, ok := w.proxies.FindByIPConfig(ctx, ev.Path)
		if !ok {
			return nil
		}
		return w.deviceUpdated(ctx, proxy.Path)
	case ConnectionAdded:
		return w.connectionAdded(ctx, ev.Path)
	case ConnectionRemoved:
		return w.connectionRemoved(ctx, ev.Path)
	case ConnectionUpdated:
		// Local edits win until the next apply re-reads everything, so
		// updates are only reported.
		e := events.New(events.ConnectionUpdated)
		e.Path = string(ev.Path)
		if id, ok := w.adapter.UUIDAt(ev.Path); ok {
			e.UUID = id.String()
		}
		w.sender.Send(e)
	case ActiveConnectionAdded, ActiveConnectionRemoved, ActiveConnectionUpdated:
		e := events.New(events.ActiveConnection)
		e.Path = string(ev.Path)
		w.sender.Send(e)
	}
	return nil
}

func (w *Watcher) deviceAdded(ctx context.Context, path godbus.ObjectPath) error {
	if _, err := w.proxies.Refresh(ctx, path); err != nil {
		return err
	}
	dev, err := w.adapter.DeviceAt(ctx, path)
	if err != nil {
		return err
	}
	err = w.actions.AddDevice(ctx, dev)
	if errors.IsKind(err, errors.KindConflict) {
		err = w.actions.UpdateDevice(ctx, dev.Name, dev)
	}
	if err != nil {
		return err
	}
	w.sendDevice(events.DeviceAdded, dev.Name, path)
	return nil
}

func (w *Watcher) deviceUpdated(ctx context.Context, path godbus.ObjectPath) error {
	old, err := w.proxies.Device(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.proxies.Refresh(ctx, path); err != nil {
		return err
	}
	dev, err := w.adapter.DeviceAt(ctx, path)
	if err != nil {
		return err
	}
	err = w.actions.UpdateDevice(ctx, old.Name, dev)
	if errors.IsKind(err, errors.KindNotFound) {
		err = w.actions.AddDevice(ctx, dev)
	}
	if err != nil {
		return err
	}
	w.sendDevice(events.DeviceUpdated, dev.Name, path)
	return nil
}

func (w *Watcher) deviceRemoved(ctx context.Context, path godbus.ObjectPath) error {
	proxy, ok := w.proxies.Remove(path)
	if !ok {
		return nil
	}
	if err := w.actions.RemoveDevice(ctx, proxy.Name); err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return err
	}
	w.sendDevice(events.DeviceRemoved, proxy.Name, path)
	return nil
}

func (w *Watcher) sendDevice(t events.Type, name string, path godbus.ObjectPath) {
	e := events.New(t)
	e.Device = name
	e.Path = string(path)
	w.sender.Send(e)
}

// connectionAdded registers connections created by other clients. Ones we
// wrote ourselves are already known and rejected as duplicates.
func (w *Watcher) connectionAdded(ctx context.Context, path godbus.ObjectPath) error {
	conn, err := w.adapter.ConnectionAt(ctx, path)
	if err != nil {
		return err
	}
	err = w.actions.NewConnection(ctx, conn)
	// A known uuid is one of ours, written back by an apply.
	if errors.IsKind(err, errors.KindConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	e := events.New(events.ConnectionAdded)
	e.ID = conn.ID
	e.UUID = conn.UUID.String()
	e.Path = string(path)
	w.sender.Send(e)
	return nil
}

func (w *Watcher) connectionRemoved(ctx context.Context, path godbus.ObjectPath) error {
	id, ok := w.adapter.UUIDAt(path)
	if !ok {
		return nil
	}
	w.adapter.Forget(path)
	if err := w.actions.ForgetConnection(ctx, id); err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return err
	}
	e := events.New(events.ConnectionRemoved)
	e.UUID = id.String()
	e.Path = string(path)
	w.sender.Send(e)
	return nil
}
