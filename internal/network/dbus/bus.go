// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dbus publishes the network state on the bus. Every connection and
// device gets an object under a fixed namespace; the objects hold no state
// and answer property reads and writes by sending actions to the control
// loop.
package dbus

import (
	"context"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
	"grimm.is/netinstall/internal/network/system"
)

// Names and paths of the published API.
const (
	ServiceName = "is.grimm.NetInstall1"

	BasePath        = godbus.ObjectPath("/is/grimm/NetInstall1/Network")
	ConnectionsPath = BasePath + "/connections"
	DevicesPath     = BasePath + "/devices"

	IfaceConnections = "is.grimm.NetInstall1.Network.Connections"
	IfaceDevices     = "is.grimm.NetInstall1.Network.Devices"
	IfaceConnection  = "is.grimm.NetInstall1.Network.Connection"
	IfaceIP          = "is.grimm.NetInstall1.Network.Connection.IP"
	IfaceMatch       = "is.grimm.NetInstall1.Network.Connection.Match"
	IfaceBond        = "is.grimm.NetInstall1.Network.Connection.Bond"
	IfaceWireless    = "is.grimm.NetInstall1.Network.Connection.Wireless"
	IfaceDevice      = "is.grimm.NetInstall1.Network.Device"

	ifaceProperties    = "org.freedesktop.DBus.Properties"
	ifaceIntrospect    = "org.freedesktop.DBus.Introspectable"
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"

	errorPrefix = "is.grimm.NetInstall1.Error."
)

// Exporter is the part of *godbus.Conn the tree needs. Exporting a nil
// method table retracts an interface.
type Exporter interface {
	ExportMethodTable(methods map[string]any, path godbus.ObjectPath, iface string) error
	Emit(path godbus.ObjectPath, name string, values ...any) error
}

// Backend is how the bus objects reach the control loop. *system.Client
// implements it.
type Backend interface {
	AddConnection(ctx context.Context, conn *model.Connection) (godbus.ObjectPath, error)
	GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error)
	GetConnections(ctx context.Context) ([]*model.Connection, error)
	GetConnectionPath(ctx context.Context, id uuid.UUID) (godbus.ObjectPath, error)
	GetConnectionPathByID(ctx context.Context, id string) (godbus.ObjectPath, error)
	GetController(ctx context.Context, id uuid.UUID) (system.ControllerInfo, error)
	GetConnectionsPaths(ctx context.Context) ([]godbus.ObjectPath, error)
	GetDevicesPaths(ctx context.Context) ([]godbus.ObjectPath, error)
	GetDevice(ctx context.Context, name string) (*model.Device, error)
	SetPorts(ctx context.Context, id uuid.UUID, ports []string) error
	UpdateConnection(ctx context.Context, conn *model.Connection) error
	RemoveConnection(ctx context.Context, id uuid.UUID) error
	Apply(ctx context.Context) (system.ApplyResult, error)
}

// busError turns an error into a bus reply. The error name carries the kind
// so that clients can tell a bad argument from a missing object.
func busError(err error) *godbus.Error {
	if err == nil {
		return nil
	}
	var name string
	switch errors.GetKind(err) {
	case errors.KindValidation:
		return godbus.NewError(godbus.ErrMsgInvalidArg.Name, []any{err.Error()})
	case errors.KindNotFound:
		name = "NotFound"
	case errors.KindConflict:
		name = "Conflict"
	case errors.KindUnavailable:
		name = "Unavailable"
	case errors.KindTimeout:
		name = "Timeout"
	default:
		name = "Failed"
	}
	return godbus.NewError(errorPrefix+name, []any{err.Error()})
}
