// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"context"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"grimm.is/netinstall/internal/network/model"
)

// deviceMediator serves the Device interface. Devices are read-only and can
// be renamed, so the name is looked up from the tree on every call.
type deviceMediator struct {
	backend Backend
	name    func() (string, bool)
}

func (m *deviceMediator) Name() string { return IfaceDevice }

func (m *deviceMediator) Methods() map[string]any { return map[string]any{} }

func (m *deviceMediator) Introspect() introspect.Interface {
	return deviceProps.introspect(IfaceDevice)
}

func (m *deviceMediator) device(ctx context.Context) (*model.Device, error) {
	if m.backend == nil {
		return nil, errNoBackend
	}
	name, ok := m.name()
	if !ok {
		return nil, model.UnknownDeviceError(name)
	}
	return m.backend.GetDevice(ctx, name)
}

func (m *deviceMediator) Get(ctx context.Context, prop string) (godbus.Variant, error) {
	p, ok := deviceProps.find(prop)
	if !ok {
		return godbus.Variant{}, unknownProperty(prop)
	}
	dev, err := m.device(ctx)
	if err != nil {
		return godbus.Variant{}, err
	}
	return godbus.MakeVariant(p.get(dev)), nil
}

func (m *deviceMediator) GetAll(ctx context.Context) (map[string]godbus.Variant, error) {
	dev, err := m.device(ctx)
	if err != nil {
		return nil, err
	}
	return deviceProps.project(dev), nil
}

func (m *deviceMediator) Set(_ context.Context, prop string, _ godbus.Variant) error {
	if _, ok := deviceProps.find(prop); !ok {
		return unknownProperty(prop)
	}
	return readOnly(prop)
}

var deviceProps = table[*model.Device]{
	{name: "Name", sig: "s", get: func(d *model.Device) any { return d.Name }},
	{name: "Type", sig: "s", get: func(d *model.Device) any { return d.Type.String() }},
	{name: "State", sig: "s", get: func(d *model.Device) any { return d.State.String() }},
	{name: "MacAddress", sig: "s", get: func(d *model.Device) any { return d.MacAddress.String() }},
	{name: "Connection", sig: "s", get: func(d *model.Device) any { return d.Connection }},
	{name: "Addresses", sig: "as", get: func(d *model.Device) any {
		if d.IPConfig == nil {
			return []string{}
		}
		return prefixStrings(d.IPConfig.Addresses)
	}},
}
