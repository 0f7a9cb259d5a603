// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nm talks to NetworkManager over D-Bus: it decodes and encodes
// connection settings, reads and writes the whole network state, and turns
// bus notifications into change events.
package nm

import (
	"context"

	godbus "github.com/godbus/dbus/v5"

	"grimm.is/netinstall/internal/errors"
)

// Bus names, paths and interfaces of the NetworkManager API.
const (
	Service      = "org.freedesktop.NetworkManager"
	RootPath     = godbus.ObjectPath("/org/freedesktop/NetworkManager")
	SettingsPath = godbus.ObjectPath("/org/freedesktop/NetworkManager/Settings")

	ifaceNM                 = "org.freedesktop.NetworkManager"
	ifaceSettings           = "org.freedesktop.NetworkManager.Settings"
	ifaceSettingsConnection = "org.freedesktop.NetworkManager.Settings.Connection"
	ifaceActiveConnection   = "org.freedesktop.NetworkManager.Connection.Active"
	ifaceDevice             = "org.freedesktop.NetworkManager.Device"
	ifaceIP4Config          = "org.freedesktop.NetworkManager.IP4Config"
	ifaceIP6Config          = "org.freedesktop.NetworkManager.IP6Config"
	ifaceProperties         = "org.freedesktop.DBus.Properties"
	ifaceObjectManager      = "org.freedesktop.DBus.ObjectManager"
)

// noPath is what NetworkManager returns for an absent object reference.
const noPath = godbus.ObjectPath("/")

// Caller performs method calls against the NetworkManager service. *BusCaller
// is the real implementation; tests provide in-memory fakes.
type Caller interface {
	CallMethod(ctx context.Context, path godbus.ObjectPath, method string, args ...any) *godbus.Call
}

// BusCaller sends calls to a service on a bus connection.
type BusCaller struct {
	conn    *godbus.Conn
	service string
}

// NewBusCaller returns a Caller for service. An empty service means
// NetworkManager.
func NewBusCaller(conn *godbus.Conn, service string) *BusCaller {
	if service == "" {
		service = Service
	}
	return &BusCaller{conn: conn, service: service}
}

func (b *BusCaller) CallMethod(ctx context.Context, path godbus.ObjectPath, method string, args ...any) *godbus.Call {
	return b.conn.Object(b.service, path).CallWithContext(ctx, method, 0, args...)
}

// call runs a method and stores its reply into out.
func call(ctx context.Context, c Caller, path godbus.ObjectPath, method string, out []any, args ...any) error {
	res := c.CallMethod(ctx, path, method, args...)
	if res.Err != nil {
		return errors.Wrapf(res.Err, errors.KindUnavailable, "%s on %s", method, path)
	}
	if len(out) == 0 {
		return nil
	}
	if err := res.Store(out...); err != nil {
		return errors.Wrapf(err, errors.KindInternal, "decode reply of %s", method)
	}
	return nil
}

func getAll(ctx context.Context, c Caller, path godbus.ObjectPath, iface string) (Props, error) {
	props := make(Props)
	if err := call(ctx, c, path, ifaceProperties+".GetAll", []any{&props}, iface); err != nil {
		return nil, err
	}
	return props, nil
}

func getProperty(ctx context.Context, c Caller, path godbus.ObjectPath, iface, name string) (godbus.Variant, error) {
	var v godbus.Variant
	err := call(ctx, c, path, ifaceProperties+".Get", []any{&v}, iface, name)
	return v, err
}
