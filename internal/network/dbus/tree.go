// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/metrics"
	"grimm.is/netinstall/internal/network/model"
)

// DefaultCallTimeout bounds a bus call waiting on the control loop.
const DefaultCallTimeout = 30 * time.Second

type TreeOptions struct {
	CallTimeout time.Duration
	Metrics     *metrics.Registry
	Logger      *logging.Logger
}

// node is one published object. ifaces holds the attached interfaces in
// the order they were attached; props the values last announced for each.
type node struct {
	path   godbus.ObjectPath
	uuid   uuid.UUID
	ifaces []mediator
	props  map[string]map[string]godbus.Variant
}

func (n *node) has(name string) bool {
	return slices.ContainsFunc(n.ifaces, func(m mediator) bool { return m.Name() == name })
}

func (n *node) names() []string {
	out := make([]string, len(n.ifaces))
	for i, m := range n.ifaces {
		out[i] = m.Name()
	}
	return out
}

// Tree publishes connections and devices as bus objects and keeps them in
// step with the control loop, which is the only caller of its mutating
// methods. Property reads and writes coming from the bus are forwarded to
// the loop through the Backend given to Bind.
type Tree struct {
	mu       sync.Mutex
	bus      Exporter
	backend  Backend
	registry *ObjectsRegistry
	nodes    map[godbus.ObjectPath]*node
	byUUID   map[uuid.UUID]*node

	timeout time.Duration
	metrics *metrics.Registry
	logger  *logging.Logger
}

func NewTree(bus Exporter, opts TreeOptions) *Tree {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Tree{
		bus:      bus,
		registry: NewObjectsRegistry(),
		nodes:    map[godbus.ObjectPath]*node{},
		byUUID:   map[uuid.UUID]*node{},
		timeout:  opts.CallTimeout,
		metrics:  opts.Metrics,
		logger:   opts.Logger.WithComponent("network-tree"),
	}
}

// Bind exports the collections and the object manager and makes backend
// serve every object published afterwards. It must be called before the
// control loop starts.
func (t *Tree) Bind(backend Backend) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.backend != nil {
		return errors.New(errors.KindConflict, "tree is already bound")
	}
	t.backend = backend

	connections := &connectionsMediator{backend: backend, bus: t.bus, timeout: t.timeout, logger: t.logger}
	devices := &devicesMediator{backend: backend, timeout: t.timeout}
	var errs error
	for _, root := range []struct {
		path godbus.ObjectPath
		m    mediator
	}{{ConnectionsPath, connections}, {DevicesPath, devices}} {
		n := &node{path: root.path, props: map[string]map[string]godbus.Variant{}}
		if err := t.attach(n, root.m, map[string]godbus.Variant{}); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, t.exportStandard(n.path))
		t.nodes[n.path] = n
	}
	errs = multierr.Append(errs, t.bus.ExportMethodTable(map[string]any{
		"GetManagedObjects": t.managedObjects,
	}, BasePath, ifaceObjectManager))
	errs = multierr.Append(errs, t.bus.ExportMethodTable(map[string]any{
		"Introspect": func() (string, *godbus.Error) { return t.introspect(BasePath) },
	}, BasePath, ifaceIntrospect))
	if errs != nil {
		return errors.Wrap(errs, errors.KindUnavailable, "export network objects")
	}
	return nil
}

// AddConnection publishes conn. When its id is taken conn.ID is changed to
// the deduplicated one.
func (t *Tree) AddConnection(conn *model.Connection) (godbus.ObjectPath, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()
	return t.publishConnection(conn)
}

func (t *Tree) publishConnection(conn *model.Connection) (godbus.ObjectPath, error) {
	if _, dup := t.byUUID[conn.UUID]; dup {
		return "", model.DuplicateConnectionError(conn.UUID.String())
	}
	if !conn.Config.Valid() {
		return "", model.InvalidValueError("connection config", conn.Config.Kind.String())
	}

	id, path := t.registry.RegisterConnection(conn.ID)
	n := &node{path: path, uuid: conn.UUID, props: map[string]map[string]godbus.Variant{}}
	for _, name := range connectionInterfaces(conn.Kind()) {
		m := newConnectionMediator(name, t.backend, conn.UUID)
		if err := t.attach(n, m, m.props.project(conn)); err != nil {
			t.logError(t.unexport(n), "could not roll back connection", "connection", id)
			t.registry.UnregisterConnection(id)
			return "", err
		}
	}
	if err := t.exportStandard(path); err != nil {
		t.logError(t.unexport(n), "could not roll back connection", "connection", id)
		t.registry.UnregisterConnection(id)
		return "", err
	}

	conn.ID = id
	t.nodes[path] = n
	t.byUUID[conn.UUID] = n
	t.emit(BasePath, ifaceObjectManager+".InterfacesAdded", path, cloneProps(n.props))
	return path, nil
}

// UpdateConnection announces the changed properties of conn and attaches
// or detaches the interfaces that depend on its kind.
func (t *Tree) UpdateConnection(conn *model.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byUUID[conn.UUID]
	if !ok {
		return model.UnknownConnectionError(conn.UUID.String())
	}
	if !conn.Config.Valid() {
		return model.InvalidValueError("connection config", conn.Config.Kind.String())
	}
	if id, ok := t.registry.ConnectionID(n.path); ok && id != conn.ID {
		if err := t.registry.RenameConnection(id, conn.ID); err != nil {
			return err
		}
	}

	want := connectionInterfaces(conn.Kind())
	var removed []string
	for _, name := range slices.Backward(n.names()) {
		if slices.Contains(want, name) {
			continue
		}
		if err := t.detach(n, name); err != nil {
			return err
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		t.emit(BasePath, ifaceObjectManager+".InterfacesRemoved", n.path, removed)
	}

	added := map[string]map[string]godbus.Variant{}
	for _, name := range want {
		table := connectionTable(name)
		props := table.project(conn)
		if !n.has(name) {
			if err := t.attach(n, newConnectionMediator(name, t.backend, conn.UUID), props); err != nil {
				return err
			}
			added[name] = props
			continue
		}
		diff := changed(n.props[name], props)
		n.props[name] = props
		if len(diff) > 0 {
			t.emit(n.path, ifaceProperties+".PropertiesChanged", name, diff, []string{})
		}
	}
	if len(added) > 0 {
		t.emit(BasePath, ifaceObjectManager+".InterfacesAdded", n.path, added)
	}
	return nil
}

// RemoveConnection retracts the connection registered as id.
func (t *Tree) RemoveConnection(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.registry.ConnectionPath(id)
	if !ok {
		return model.UnknownConnectionError(id)
	}
	defer t.observe()
	return t.removeConnectionOn(path)
}

// RemoveConnectionOn retracts the connection published at path.
func (t *Tree) RemoveConnectionOn(path godbus.ObjectPath) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()
	return t.removeConnectionOn(path)
}

func (t *Tree) removeConnectionOn(path godbus.ObjectPath) error {
	id, ok := t.registry.ConnectionID(path)
	if !ok {
		return errors.Attr(errors.Errorf(errors.KindNotFound, "no connection at %s", path), "path", string(path))
	}
	t.registry.UnregisterConnection(id)
	n, ok := t.nodes[path]
	if !ok {
		return nil
	}
	delete(t.nodes, path)
	delete(t.byUUID, n.uuid)
	return t.retract(n)
}

// SetConnections drops every published connection and publishes conns as
// a new generation, numbered from zero. Removed connections are skipped.
func (t *Tree) SetConnections(ctx context.Context, conns []*model.Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()

	var errs error
	for _, path := range t.registry.ConnectionsPaths() {
		errs = multierr.Append(errs, t.removeConnectionOn(path))
	}
	t.registry.ResetConnections()

	for _, conn := range conns {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if conn.IsRemoved() {
			continue
		}
		if _, err := t.publishConnection(conn); err != nil {
			errs = multierr.Append(errs, errors.Attr(err, "connection", conn.ID))
		}
	}
	return errs
}

func (t *Tree) AddDevice(dev *model.Device) (godbus.ObjectPath, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()
	return t.publishDevice(dev)
}

func (t *Tree) publishDevice(dev *model.Device) (godbus.ObjectPath, error) {
	path, err := t.registry.RegisterDevice(dev.Name)
	if err != nil {
		return "", err
	}
	n := &node{path: path, props: map[string]map[string]godbus.Variant{}}
	m := &deviceMediator{backend: t.backend, name: func() (string, bool) {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.registry.DeviceName(path)
	}}
	err = t.attach(n, m, deviceProps.project(dev))
	if err == nil {
		err = t.exportStandard(path)
	}
	if err != nil {
		t.logError(t.unexport(n), "could not roll back device", "device", dev.Name)
		t.registry.UnregisterDevice(dev.Name)
		return "", err
	}
	t.nodes[path] = n
	t.emit(BasePath, ifaceObjectManager+".InterfacesAdded", path, cloneProps(n.props))
	return path, nil
}

// UpdateDevice announces the changed properties of the device published as
// name. dev may carry a new name.
func (t *Tree) UpdateDevice(name string, dev *model.Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	path, ok := t.registry.DevicePath(name)
	if !ok {
		return model.UnknownDeviceError(name)
	}
	if dev.Name != name {
		if err := t.registry.RenameDevice(name, dev.Name); err != nil {
			return err
		}
	}
	n := t.nodes[path]
	props := deviceProps.project(dev)
	diff := changed(n.props[IfaceDevice], props)
	n.props[IfaceDevice] = props
	if len(diff) > 0 {
		t.emit(path, ifaceProperties+".PropertiesChanged", IfaceDevice, diff, []string{})
	}
	return nil
}

func (t *Tree) RemoveDevice(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()
	path, ok := t.registry.UnregisterDevice(name)
	if !ok {
		return model.UnknownDeviceError(name)
	}
	n := t.nodes[path]
	delete(t.nodes, path)
	return t.retract(n)
}

// SetDevices drops every published device and publishes devs as a new
// generation.
func (t *Tree) SetDevices(ctx context.Context, devs []*model.Device) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.observe()

	var errs error
	for _, path := range t.registry.DevicesPaths() {
		if name, ok := t.registry.DeviceName(path); ok {
			t.registry.UnregisterDevice(name)
		}
		if n, ok := t.nodes[path]; ok {
			delete(t.nodes, path)
			errs = multierr.Append(errs, t.retract(n))
		}
	}
	t.registry.ResetDevices()

	for _, dev := range devs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if _, err := t.publishDevice(dev); err != nil {
			errs = multierr.Append(errs, errors.Attr(err, "device", dev.Name))
		}
	}
	return errs
}

func (t *Tree) ConnectionPath(id string) (godbus.ObjectPath, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.ConnectionPath(id)
}

func (t *Tree) ConnectionsPaths() []godbus.ObjectPath {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.ConnectionsPaths()
}

func (t *Tree) DevicesPaths() []godbus.ObjectPath {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.DevicesPaths()
}

// attach exports m at n and records props as its announced values.
func (t *Tree) attach(n *node, m mediator, props map[string]godbus.Variant) error {
	if err := t.bus.ExportMethodTable(m.Methods(), n.path, m.Name()); err != nil {
		return errors.Attr(errors.Wrapf(err, errors.KindUnavailable, "export %s", m.Name()), "path", string(n.path))
	}
	n.ifaces = append(n.ifaces, m)
	n.props[m.Name()] = props
	return nil
}

func (t *Tree) detach(n *node, name string) error {
	if err := t.bus.ExportMethodTable(nil, n.path, name); err != nil {
		return errors.Attr(errors.Wrapf(err, errors.KindUnavailable, "unexport %s", name), "path", string(n.path))
	}
	n.ifaces = slices.DeleteFunc(n.ifaces, func(m mediator) bool { return m.Name() == name })
	delete(n.props, name)
	return nil
}

// retract removes n from the bus and announces it.
func (t *Tree) retract(n *node) error {
	names := n.names()
	err := t.unexport(n)
	if len(names) > 0 {
		t.emit(BasePath, ifaceObjectManager+".InterfacesRemoved", n.path, names)
	}
	return err
}

// unexport detaches every interface of n, last attached first. Failing to
// detach a kind specific interface is only logged.
func (t *Tree) unexport(n *node) error {
	names := n.names()
	var errs error
	for _, name := range slices.Backward(names) {
		err := t.detach(n, name)
		switch {
		case err == nil:
		case optionalInterface(name):
			t.logger.Debug("could not retract interface", "path", n.path, "interface", name, "error", err)
		default:
			errs = multierr.Append(errs, err)
		}
	}
	errs = multierr.Append(errs, t.bus.ExportMethodTable(nil, n.path, ifaceProperties))
	errs = multierr.Append(errs, t.bus.ExportMethodTable(nil, n.path, ifaceIntrospect))
	return errs
}

// exportStandard exports the Properties and Introspectable interfaces at
// path. Both look the object up on every call.
func (t *Tree) exportStandard(path godbus.ObjectPath) error {
	err := multierr.Combine(
		t.bus.ExportMethodTable(t.propertiesTable(path), path, ifaceProperties),
		t.bus.ExportMethodTable(map[string]any{
			"Introspect": func() (string, *godbus.Error) { return t.introspect(path) },
		}, path, ifaceIntrospect),
	)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "export standard interfaces"), "path", string(path))
	}
	return nil
}

func (t *Tree) mediator(path godbus.ObjectPath, iface string) (mediator, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[path]
	if !ok {
		return nil, errors.Attr(errors.Errorf(errors.KindNotFound, "no object at %s", path), "path", string(path))
	}
	for _, m := range n.ifaces {
		if m.Name() == iface {
			return m, nil
		}
	}
	return nil, errors.Attr(errors.Errorf(errors.KindNotFound, "no interface %s at %s", iface, path), "interface", iface)
}

func (t *Tree) propertiesTable(path godbus.ObjectPath) map[string]any {
	return map[string]any{
		"Get": func(iface, name string) (godbus.Variant, *godbus.Error) {
			m, err := t.mediator(path, iface)
			if err != nil {
				return godbus.Variant{}, busError(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()
			v, err := m.Get(ctx, name)
			return v, busError(err)
		},
		"GetAll": func(iface string) (map[string]godbus.Variant, *godbus.Error) {
			m, err := t.mediator(path, iface)
			if err != nil {
				return nil, busError(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()
			props, err := m.GetAll(ctx)
			return props, busError(err)
		},
		"Set": func(iface, name string, value godbus.Variant) *godbus.Error {
			m, err := t.mediator(path, iface)
			if err != nil {
				return busError(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			defer cancel()
			return busError(m.Set(ctx, name, value))
		},
	}
}

var objectManagerData = introspect.Interface{
	Name: ifaceObjectManager,
	Methods: []introspect.Method{{
		Name: "GetManagedObjects",
		Args: []introspect.Arg{{Name: "objects", Type: "a{oa{sa{sv}}}", Direction: "out"}},
	}},
	Signals: []introspect.Signal{
		{Name: "InterfacesAdded", Args: []introspect.Arg{{Name: "object", Type: "o"}, {Name: "interfaces", Type: "a{sa{sv}}"}}},
		{Name: "InterfacesRemoved", Args: []introspect.Arg{{Name: "object", Type: "o"}, {Name: "interfaces", Type: "as"}}},
	},
}

func (t *Tree) introspect(path godbus.ObjectPath) (string, *godbus.Error) {
	t.mu.Lock()
	node := &introspect.Node{
		Name:       string(path),
		Interfaces: []introspect.Interface{introspect.IntrospectData},
	}
	switch path {
	case BasePath:
		node.Interfaces = append(node.Interfaces, objectManagerData)
		node.Children = []introspect.Node{{Name: "connections"}, {Name: "devices"}}
	case ConnectionsPath:
		node.Children = children(ConnectionsPath, t.registry.ConnectionsPaths())
	case DevicesPath:
		node.Children = children(DevicesPath, t.registry.DevicesPaths())
	}
	if n, ok := t.nodes[path]; ok {
		node.Interfaces = append(node.Interfaces, prop.IntrospectData)
		for _, m := range n.ifaces {
			node.Interfaces = append(node.Interfaces, m.Introspect())
		}
	}
	t.mu.Unlock()
	return introspect.NewIntrospectable(node).Introspect()
}

func children(base godbus.ObjectPath, paths []godbus.ObjectPath) []introspect.Node {
	out := make([]introspect.Node, len(paths))
	for i, p := range paths {
		out[i] = introspect.Node{Name: strings.TrimPrefix(string(p), string(base)+"/")}
	}
	return out
}

// managedObjects answers GetManagedObjects from the announced values, so
// it never waits on the control loop. Ports of bonds are not included.
func (t *Tree) managedObjects() (map[godbus.ObjectPath]map[string]map[string]godbus.Variant, *godbus.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[godbus.ObjectPath]map[string]map[string]godbus.Variant, len(t.nodes))
	for path, n := range t.nodes {
		out[path] = cloneProps(n.props)
	}
	return out, nil
}

func cloneProps(in map[string]map[string]godbus.Variant) map[string]map[string]godbus.Variant {
	out := make(map[string]map[string]godbus.Variant, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}

func (t *Tree) emit(path godbus.ObjectPath, signal string, values ...any) {
	if err := t.bus.Emit(path, signal, values...); err != nil {
		t.logger.Warn("could not emit signal", "path", path, "signal", signal, "error", err)
	}
}

func (t *Tree) logError(err error, msg string, keyvals ...any) {
	if err != nil {
		t.logger.Warn(msg, append(keyvals, "error", err)...)
	}
}

func (t *Tree) observe() {
	t.metrics.SetTreeObjects("connection", len(t.registry.connections.paths))
	t.metrics.SetTreeObjects("device", len(t.registry.devices.paths))
}
