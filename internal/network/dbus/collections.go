// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"context"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/google/uuid"

	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/network/model"
)

// connectionsMediator is the Connections collection at ConnectionsPath.
type connectionsMediator struct {
	noProperties
	backend Backend
	bus     Exporter
	timeout time.Duration
	logger  *logging.Logger
}

func (m *connectionsMediator) Name() string { return IfaceConnections }

func (m *connectionsMediator) Introspect() introspect.Interface {
	arg := func(name, typ, dir string) introspect.Arg {
		return introspect.Arg{Name: name, Type: typ, Direction: dir}
	}
	return introspect.Interface{
		Name: IfaceConnections,
		Methods: []introspect.Method{
			{Name: "AddConnection", Args: []introspect.Arg{arg("id", "s", "in"), arg("kind", "s", "in"), arg("path", "o", "out")}},
			{Name: "GetConnection", Args: []introspect.Arg{arg("uuid", "s", "in"), arg("path", "o", "out")}},
			{Name: "GetConnectionById", Args: []introspect.Arg{arg("id", "s", "in"), arg("path", "o", "out")}},
			{Name: "GetConnections", Args: []introspect.Arg{arg("paths", "ao", "out")}},
			{Name: "RemoveConnection", Args: []introspect.Arg{arg("uuid", "s", "in")}},
			{Name: "Apply", Args: []introspect.Arg{arg("failed", "as", "out")}},
		},
		Signals: []introspect.Signal{
			{Name: "ConnectionAdded", Args: []introspect.Arg{arg("id", "s", ""), arg("path", "o", "")}},
		},
	}
}

func (m *connectionsMediator) Methods() map[string]any {
	return map[string]any{
		"AddConnection":     m.addConnection,
		"GetConnection":     m.getConnection,
		"GetConnectionById": m.getConnectionByID,
		"GetConnections":    m.getConnections,
		"RemoveConnection":  m.removeConnection,
		"Apply":             m.apply,
	}
}

func (m *connectionsMediator) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

// addConnection creates a connection of the given kind. The id may come
// back deduplicated; the ConnectionAdded signal carries the final one.
func (m *connectionsMediator) addConnection(id, kind string) (godbus.ObjectPath, *godbus.Error) {
	k, err := model.ParseConnectionKind(kind)
	if err != nil {
		return "", busError(err)
	}
	ctx, cancel := m.context()
	defer cancel()

	conn := model.NewConnection(id, k)
	path, err := m.backend.AddConnection(ctx, conn)
	if err != nil {
		return "", busError(err)
	}
	if added, err := m.backend.GetConnection(ctx, conn.UUID); err == nil {
		id = added.ID
	}
	if err := m.bus.Emit(ConnectionsPath, IfaceConnections+".ConnectionAdded", id, path); err != nil {
		m.logger.Warn("could not emit ConnectionAdded", "connection", id, "error", err)
	}
	return path, nil
}

func (m *connectionsMediator) getConnection(id string) (godbus.ObjectPath, *godbus.Error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", busError(model.InvalidUUIDError(id))
	}
	ctx, cancel := m.context()
	defer cancel()
	path, err := m.backend.GetConnectionPath(ctx, parsed)
	return path, busError(err)
}

func (m *connectionsMediator) getConnectionByID(id string) (godbus.ObjectPath, *godbus.Error) {
	ctx, cancel := m.context()
	defer cancel()
	path, err := m.backend.GetConnectionPathByID(ctx, id)
	return path, busError(err)
}

func (m *connectionsMediator) getConnections() ([]godbus.ObjectPath, *godbus.Error) {
	ctx, cancel := m.context()
	defer cancel()
	paths, err := m.backend.GetConnectionsPaths(ctx)
	return nonNil(paths), busError(err)
}

func (m *connectionsMediator) removeConnection(id string) *godbus.Error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return busError(model.InvalidUUIDError(id))
	}
	ctx, cancel := m.context()
	defer cancel()
	return busError(m.backend.RemoveConnection(ctx, parsed))
}

// apply returns the ids of the connections the network manager refused.
func (m *connectionsMediator) apply() ([]string, *godbus.Error) {
	ctx, cancel := m.context()
	defer cancel()
	result, err := m.backend.Apply(ctx)
	return nonNil(result.Failed), busError(err)
}

// devicesMediator is the Devices collection at DevicesPath.
type devicesMediator struct {
	noProperties
	backend Backend
	timeout time.Duration
}

func (m *devicesMediator) Name() string { return IfaceDevices }

func (m *devicesMediator) Introspect() introspect.Interface {
	return introspect.Interface{
		Name: IfaceDevices,
		Methods: []introspect.Method{
			{Name: "GetDevices", Args: []introspect.Arg{{Name: "paths", Type: "ao", Direction: "out"}}},
		},
	}
}

func (m *devicesMediator) Methods() map[string]any {
	return map[string]any{"GetDevices": m.getDevices}
}

func (m *devicesMediator) getDevices() ([]godbus.ObjectPath, *godbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	paths, err := m.backend.GetDevicesPaths(ctx)
	return nonNil(paths), busError(err)
}
