// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"context"
	"sort"
	"sync"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/network/model"
)

// Settings connection flags (NMSettingsConnectionFlags).
const (
	flagNMGenerated uint32 = 0x2
	flagExternal    uint32 = 0x8
)

// Adapter reads and writes the network state through NetworkManager.
type Adapter struct {
	caller Caller
	logger *logging.Logger

	mu sync.Mutex
	// settings object path -> connection uuid, refreshed by Read and Write.
	paths map[godbus.ObjectPath]uuid.UUID
}

// NewAdapter returns an adapter using caller. A nil logger uses the default.
func NewAdapter(caller Caller, logger *logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{
		caller: caller,
		logger: logger.WithComponent("nm-adapter"),
		paths:  make(map[godbus.ObjectPath]uuid.UUID),
	}
}

// Read returns a fresh snapshot of devices and connections. Listing
// failures are fatal; an individual device or connection that cannot be
// read or decoded is skipped.
func (a *Adapter) Read(ctx context.Context) (*model.NetworkState, error) {
	devices, err := a.readDevices(ctx)
	if err != nil {
		return nil, err
	}
	connections, err := a.readConnections(ctx)
	if err != nil {
		return nil, err
	}
	active, err := a.activeUUIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range connections {
		if active[c.UUID] {
			c.Status = model.StatusUp
		} else {
			c.Status = model.StatusDown
		}
	}
	return model.NewNetworkState(devices, connections), nil
}

func (a *Adapter) readDevices(ctx context.Context) ([]*model.Device, error) {
	var paths []godbus.ObjectPath
	if err := call(ctx, a.caller, RootPath, ifaceNM+".GetDevices", []any{&paths}); err != nil {
		return nil, err
	}
	devices := make([]*model.Device, 0, len(paths))
	for _, path := range paths {
		dev, err := a.DeviceAt(ctx, path)
		if err != nil {
			a.logger.Warn("skipping device", "path", path, "error", err)
			continue
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// DeviceAt reads the device at path, including its runtime IP configuration
// and the id of its active connection.
func (a *Adapter) DeviceAt(ctx context.Context, path godbus.ObjectPath) (*model.Device, error) {
	props, err := getAll(ctx, a.caller, path, ifaceDevice)
	if err != nil {
		return nil, err
	}
	var ip4, ip6 Props
	if state, _ := deviceState(props); state == nmStateActivated {
		ip4 = a.optionalProps(ctx, props, "Ip4Config", ifaceIP4Config)
		ip6 = a.optionalProps(ctx, props, "Ip6Config", ifaceIP6Config)
	}
	dev, err := DeviceFromDBus(props, ip4, ip6)
	if err != nil {
		return nil, err
	}
	if ac, ok := field[godbus.ObjectPath](props, "ActiveConnection"); ok && ac != noPath {
		if acProps, err := getAll(ctx, a.caller, ac, ifaceActiveConnection); err == nil {
			dev.Connection, _ = field[string](acProps, "Id")
		}
	}
	return dev, nil
}

// optionalProps follows an object reference and returns nil when it is
// unset or unreadable.
func (a *Adapter) optionalProps(ctx context.Context, props Props, key, iface string) Props {
	path, ok := field[godbus.ObjectPath](props, key)
	if !ok || path == noPath {
		return nil
	}
	out, err := getAll(ctx, a.caller, path, iface)
	if err != nil {
		a.logger.Debug("cannot read ip config", "path", path, "error", err)
		return nil
	}
	return out
}

func (a *Adapter) readConnections(ctx context.Context) ([]*model.Connection, error) {
	var paths []godbus.ObjectPath
	if err := call(ctx, a.caller, SettingsPath, ifaceSettings+".ListConnections", []any{&paths}); err != nil {
		return nil, err
	}

	index := make(map[godbus.ObjectPath]uuid.UUID, len(paths))
	controllers := make(map[uuid.UUID]string)
	connections := make([]*model.Connection, 0, len(paths))
	for _, path := range paths {
		settings, err := a.settingsAt(ctx, path)
		if err != nil {
			a.logger.Warn("skipping connection", "path", path, "error", err)
			continue
		}
		conn, ok := ConnectionFromDBus(settings)
		if !ok {
			continue
		}
		conn.Generated = a.isGenerated(ctx, path)
		if conn.Controller == nil {
			if name := controllerName(settings[sectionConnection]); name != "" {
				controllers[conn.UUID] = name
			}
		}
		index[path] = conn.UUID
		connections = append(connections, conn)
	}
	resolveControllers(connections, controllers)

	a.mu.Lock()
	a.paths = index
	a.mu.Unlock()
	return connections, nil
}

// resolveControllers binds ports whose controller was given by interface
// name rather than by uuid.
func resolveControllers(connections []*model.Connection, names map[uuid.UUID]string) {
	for _, c := range connections {
		name, ok := names[c.UUID]
		if !ok {
			continue
		}
		for _, ctrl := range connections {
			if ctrl.IsController() && (ctrl.Interface == name || ctrl.ID == name) {
				id := ctrl.UUID
				c.Controller = &id
				break
			}
		}
	}
}

func (a *Adapter) settingsAt(ctx context.Context, path godbus.ObjectPath) (Settings, error) {
	var settings Settings
	if err := call(ctx, a.caller, path, ifaceSettingsConnection+".GetSettings", []any{&settings}); err != nil {
		return nil, err
	}
	return settings, nil
}

func (a *Adapter) isGenerated(ctx context.Context, path godbus.ObjectPath) bool {
	v, err := getProperty(ctx, a.caller, path, ifaceSettingsConnection, "Flags")
	if err != nil {
		return false
	}
	flags, _ := v.Value().(uint32)
	return flags&(flagNMGenerated|flagExternal) != 0
}

// ConnectionAt reads and decodes the connection at a settings path.
func (a *Adapter) ConnectionAt(ctx context.Context, path godbus.ObjectPath) (*model.Connection, error) {
	settings, err := a.settingsAt(ctx, path)
	if err != nil {
		return nil, err
	}
	conn, ok := ConnectionFromDBus(settings)
	if !ok {
		return nil, errors.Errorf(errors.KindValidation, "%s is not a connection", path)
	}
	conn.Generated = a.isGenerated(ctx, path)
	a.mu.Lock()
	a.paths[path] = conn.UUID
	a.mu.Unlock()
	return conn, nil
}

// UUIDAt returns the uuid of the connection last seen at path.
func (a *Adapter) UUIDAt(path godbus.ObjectPath) (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.paths[path]
	return id, ok
}

// Forget drops path from the index once its connection is gone.
func (a *Adapter) Forget(path godbus.ObjectPath) {
	a.mu.Lock()
	delete(a.paths, path)
	a.mu.Unlock()
}

// activeConnections maps the uuid of every active connection to the path of
// its active connection object.
func (a *Adapter) activeConnections(ctx context.Context) (map[uuid.UUID]godbus.ObjectPath, error) {
	v, err := getProperty(ctx, a.caller, RootPath, ifaceNM, "ActiveConnections")
	if err != nil {
		return nil, err
	}
	paths, _ := v.Value().([]godbus.ObjectPath)
	out := make(map[uuid.UUID]godbus.ObjectPath, len(paths))
	for _, path := range paths {
		props, err := getAll(ctx, a.caller, path, ifaceActiveConnection)
		if err != nil {
			continue
		}
		if id, ok := parsed(props, "Uuid", uuid.Parse); ok {
			out[id] = path
		}
	}
	return out, nil
}

func (a *Adapter) activeUUIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	active, err := a.activeConnections(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]bool, len(active))
	for id := range active {
		out[id] = true
	}
	return out, nil
}

// Write pushes state to NetworkManager. Every connection is attempted; the
// returned error combines the failures with multierr, each tagged with the
// "connection" attribute.
func (a *Adapter) Write(ctx context.Context, state *model.NetworkState) error {
	active, err := a.activeConnections(ctx)
	if err != nil {
		a.logger.Warn("cannot list active connections", "error", err)
		active = map[uuid.UUID]godbus.ObjectPath{}
	}

	var errs error
	for _, conn := range writeOrder(state.Connections) {
		if conn.IsLoopback() {
			continue
		}
		var controller *model.Connection
		if conn.Controller != nil {
			controller, _ = state.GetConnectionByUUID(*conn.Controller)
		}
		if err := a.writeConnection(ctx, conn, controller, active); err != nil {
			a.logger.Error("could not write connection", "connection", conn.ID, "error", err)
			errs = multierr.Append(errs, errors.Attr(err, "connection", conn.ID))
		}
	}
	return errs
}

// writeOrder puts controllers before their ports so that port settings can
// reference an existing controller.
func writeOrder(conns []*model.Connection) []*model.Connection {
	out := make([]*model.Connection, len(conns))
	copy(out, conns)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsController() && !out[j].IsController()
	})
	return out
}

func (a *Adapter) writeConnection(ctx context.Context, conn, controller *model.Connection, active map[uuid.UUID]godbus.ObjectPath) error {
	path, found := a.pathOf(ctx, conn.UUID)

	if conn.IsRemoved() {
		if !found {
			return nil
		}
		if err := call(ctx, a.caller, path, ifaceSettingsConnection+".Delete", nil); err != nil {
			return err
		}
		a.Forget(path)
		return nil
	}
	if conn.Generated {
		return nil
	}

	settings := ConnectionToDBus(conn, controller)
	if found {
		original, err := a.settingsAt(ctx, path)
		if err != nil {
			return err
		}
		if err := call(ctx, a.caller, path, ifaceSettingsConnection+".Update", nil, MergeSettings(original, settings)); err != nil {
			return err
		}
	} else {
		if err := call(ctx, a.caller, SettingsPath, ifaceSettings+".AddConnection", []any{&path}, settings); err != nil {
			return err
		}
		a.mu.Lock()
		a.paths[path] = conn.UUID
		a.mu.Unlock()
	}

	acPath, isActive := active[conn.UUID]
	switch {
	case conn.IsUp():
		var ac godbus.ObjectPath
		return call(ctx, a.caller, RootPath, ifaceNM+".ActivateConnection", []any{&ac}, path, noPath, noPath)
	case isActive:
		return call(ctx, a.caller, RootPath, ifaceNM+".DeactivateConnection", nil, acPath)
	}
	return nil
}

// pathOf resolves the settings path of a connection.
func (a *Adapter) pathOf(ctx context.Context, id uuid.UUID) (godbus.ObjectPath, bool) {
	var path godbus.ObjectPath
	if err := call(ctx, a.caller, SettingsPath, ifaceSettings+".GetConnectionByUuid", []any{&path}, id.String()); err != nil {
		return "", false
	}
	return path, true
}
