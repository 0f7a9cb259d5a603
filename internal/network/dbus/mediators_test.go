// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"context"
	"testing"

	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netinstall/internal/network/model"
)

func TestConnectionProperties(t *testing.T) {
	state, ids := fixtureState()
	s := startStack(t, state)
	eth0 := ConnectionsPath + "/0"

	assert.Equal(t, "eth0", s.bus.mustGet(t, eth0, IfaceConnection, "Id"))
	assert.Equal(t, ids.eth0.String(), s.bus.mustGet(t, eth0, IfaceConnection, "Uuid"))
	assert.Equal(t, true, s.bus.mustGet(t, eth0, IfaceConnection, "Active"))
	assert.Equal(t, []string{"192.168.0.10/24"}, s.bus.mustGet(t, eth0, IfaceIP, "Addresses"))
	assert.Equal(t, "", s.bus.mustGet(t, eth0, IfaceIP, "Gateway4"))

	s.bus.reset()
	require.Nil(t, s.bus.set(t, eth0, IfaceConnection, "Interface", "enp1s0"))
	require.Nil(t, s.bus.set(t, eth0, IfaceIP, "Gateway4", "192.168.0.1"))
	require.Nil(t, s.bus.set(t, eth0, IfaceConnection, "Active", false))
	require.Nil(t, s.bus.set(t, eth0, IfaceMatch, "Driver", []string{"virtio_net"}))

	conn, err := s.client.GetConnection(context.Background(), ids.eth0)
	require.NoError(t, err)
	assert.Equal(t, "enp1s0", conn.Interface)
	assert.Equal(t, "192.168.0.1", conn.IPConfig.Gateway4.String())
	assert.Equal(t, model.StatusDown, conn.Status)
	assert.Equal(t, []string{"virtio_net"}, conn.Match.Driver)

	// Every write is announced by the tree once the loop has stored it.
	changes := s.bus.signalsNamed(propertiesChanged)
	require.Len(t, changes, 4)
	first := changes[0].values[1].(map[string]godbus.Variant)
	assert.Equal(t, map[string]godbus.Variant{"Interface": godbus.MakeVariant("enp1s0")}, first)
	assert.Equal(t, IfaceIP, changes[1].values[0])
}

func TestConnectionPropertyErrors(t *testing.T) {
	state, _ := fixtureState()
	s := startStack(t, state)
	eth0 := ConnectionsPath + "/0"

	derr := s.bus.set(t, eth0, IfaceIP, "Gateway4", "fd00::1")
	require.NotNil(t, derr)
	assert.Equal(t, godbus.ErrMsgInvalidArg.Name, derr.Name)

	derr = s.bus.set(t, eth0, IfaceConnection, "Id", "renamed")
	require.NotNil(t, derr)
	assert.Equal(t, godbus.ErrMsgInvalidArg.Name, derr.Name, "read-only")

	derr = s.bus.set(t, eth0, IfaceConnection, "Interface", 42)
	require.NotNil(t, derr)
	assert.Equal(t, godbus.ErrMsgInvalidArg.Name, derr.Name, "wrong type")

	_, derr = s.bus.get(t, eth0, IfaceConnection, "Bogus")
	require.NotNil(t, derr)
	assert.Equal(t, errorPrefix+"NotFound", derr.Name)

	_, derr = s.bus.get(t, eth0, IfaceBond, "Mode")
	require.NotNil(t, derr)
	assert.Equal(t, errorPrefix+"NotFound", derr.Name, "interface not attached")
}

func TestBondAndWirelessProperties(t *testing.T) {
	state, ids := fixtureState()
	s := startStack(t, state)
	eth0, bond, wifi := ConnectionsPath+"/0", ConnectionsPath+"/1", ConnectionsPath+"/2"

	assert.Equal(t, []string{}, s.bus.mustGet(t, bond, IfaceBond, "Ports"))
	require.Nil(t, s.bus.set(t, bond, IfaceBond, "Ports", []string{"eth0"}))
	assert.Equal(t, []string{"eth0"}, s.bus.mustGet(t, bond, IfaceBond, "Ports"))
	assert.Equal(t, ids.bond.String(), s.bus.mustGet(t, eth0, IfaceConnection, "Controller"))

	require.Nil(t, s.bus.set(t, bond, IfaceBond, "Mode", "active-backup"))
	require.Nil(t, s.bus.set(t, bond, IfaceBond, "Options", "miimon=100"))
	assert.Equal(t, "active-backup", s.bus.mustGet(t, bond, IfaceBond, "Mode"))
	assert.Equal(t, "miimon=100", s.bus.mustGet(t, bond, IfaceBond, "Options"))

	getAll := s.bus.method(t, bond, ifaceProperties, "GetAll").(func(string) (map[string]godbus.Variant, *godbus.Error))
	all, derr := getAll(IfaceBond)
	require.Nil(t, derr)
	assert.Len(t, all, 3)
	assert.Equal(t, []string{"eth0"}, all["Ports"].Value())

	assert.Equal(t, []byte("agama"), s.bus.mustGet(t, wifi, IfaceWireless, "SSID"))
	require.Nil(t, s.bus.set(t, wifi, IfaceWireless, "Security", "sae"))
	require.Nil(t, s.bus.set(t, wifi, IfaceWireless, "Password", "secret"))
	derr = s.bus.set(t, wifi, IfaceWireless, "Mode", "bogus")
	require.NotNil(t, derr)

	conn, err := s.client.GetConnection(context.Background(), ids.wifi)
	require.NoError(t, err)
	assert.Equal(t, model.SecurityWPA3Personal, conn.Config.Wireless.Security)
	assert.Equal(t, "secret", conn.Config.Wireless.Password)
	assert.Equal(t, model.WirelessModeInfra, conn.Config.Wireless.Mode)
}

func TestMediatorPanicsOnWrongVariant(t *testing.T) {
	eth := model.NewConnection("eth0", model.KindEthernet)
	assert.Panics(t, func() { bondProps.project(eth) })
	assert.Panics(t, func() { wirelessProps.project(eth) })
	assert.NotPanics(t, func() { ipProps.project(eth) })
}

func TestConnectionsCollection(t *testing.T) {
	state, ids := fixtureState()
	s := startStack(t, state)

	add := s.bus.method(t, ConnectionsPath, IfaceConnections, "AddConnection").(func(string, string) (godbus.ObjectPath, *godbus.Error))
	path, derr := add("eth0", "ethernet")
	require.Nil(t, derr)
	assert.Equal(t, ConnectionsPath+"/3", path)
	assert.Equal(t, "eth0-1", s.bus.mustGet(t, path, IfaceConnection, "Id"))

	signals := s.bus.signalsNamed(IfaceConnections + ".ConnectionAdded")
	require.Len(t, signals, 1)
	assert.Equal(t, []any{"eth0-1", path}, signals[0].values)

	_, derr = add("x", "token-ring")
	require.NotNil(t, derr)
	assert.Equal(t, godbus.ErrMsgInvalidArg.Name, derr.Name)

	byID := s.bus.method(t, ConnectionsPath, IfaceConnections, "GetConnectionById").(func(string) (godbus.ObjectPath, *godbus.Error))
	got, derr := byID("eth0-1")
	require.Nil(t, derr)
	assert.Equal(t, path, got)
	_, derr = byID("nope")
	require.NotNil(t, derr)
	assert.Equal(t, errorPrefix+"NotFound", derr.Name)

	byUUID := s.bus.method(t, ConnectionsPath, IfaceConnections, "GetConnection").(func(string) (godbus.ObjectPath, *godbus.Error))
	got, derr = byUUID(ids.wifi.String())
	require.Nil(t, derr)
	assert.Equal(t, ConnectionsPath+"/2", got)
	_, derr = byUUID("not-a-uuid")
	require.NotNil(t, derr)
	assert.Equal(t, godbus.ErrMsgInvalidArg.Name, derr.Name)

	list := s.bus.method(t, ConnectionsPath, IfaceConnections, "GetConnections").(func() ([]godbus.ObjectPath, *godbus.Error))
	paths, derr := list()
	require.Nil(t, derr)
	assert.Len(t, paths, 4)

	devices := s.bus.method(t, DevicesPath, IfaceDevices, "GetDevices").(func() ([]godbus.ObjectPath, *godbus.Error))
	devPaths, derr := devices()
	require.Nil(t, derr)
	assert.Equal(t, []godbus.ObjectPath{DevicesPath + "/0"}, devPaths)
}

func TestRemoveAndApply(t *testing.T) {
	state, ids := fixtureState()
	s := startStack(t, state)
	ctx := context.Background()

	remove := s.bus.method(t, ConnectionsPath, IfaceConnections, "RemoveConnection").(func(string) *godbus.Error)
	require.Nil(t, remove(ids.eth0.String()))
	assert.Empty(t, s.bus.interfaces(ConnectionsPath+"/0"))
	assert.Equal(t, []godbus.ObjectPath{ConnectionsPath + "/1", ConnectionsPath + "/2"}, s.tree.ConnectionsPaths())

	derr := remove(ids.eth0.String())
	require.NotNil(t, derr)
	assert.Equal(t, errorPrefix+"NotFound", derr.Name)

	apply := s.bus.method(t, ConnectionsPath, IfaceConnections, "Apply").(func() ([]string, *godbus.Error))
	failed, derr := apply()
	require.Nil(t, derr)
	assert.Empty(t, failed)

	// The rebuild after apply numbers the objects again.
	require.NoError(t, s.system.WaitTree(ctx))
	assert.Equal(t, []godbus.ObjectPath{ConnectionsPath + "/0", ConnectionsPath + "/1"}, s.tree.ConnectionsPaths())
	bond, ok := s.tree.ConnectionPath("bond0")
	require.True(t, ok)
	assert.Equal(t, ConnectionsPath+"/0", bond)
	assert.Equal(t, "bond0", s.bus.mustGet(t, bond, IfaceConnection, "Id"))

	conns, err := s.client.GetConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, conns, 2)
}

func TestDeviceProperties(t *testing.T) {
	state, _ := fixtureState()
	s := startStack(t, state)
	ctx := context.Background()
	path := DevicesPath + "/0"

	assert.Equal(t, "eth0", s.bus.mustGet(t, path, IfaceDevice, "Name"))
	assert.Equal(t, "ethernet", s.bus.mustGet(t, path, IfaceDevice, "Type"))
	assert.Equal(t, "connected", s.bus.mustGet(t, path, IfaceDevice, "State"))
	assert.Equal(t, "eth0", s.bus.mustGet(t, path, IfaceDevice, "Connection"))
	assert.Equal(t, []string{"192.168.0.10/24"}, s.bus.mustGet(t, path, IfaceDevice, "Addresses"))

	derr := s.bus.set(t, path, IfaceDevice, "Name", "lan0")
	require.NotNil(t, derr)
	assert.Equal(t, godbus.ErrMsgInvalidArg.Name, derr.Name)

	dev, err := s.client.GetDevice(ctx, "eth0")
	require.NoError(t, err)
	dev.Name = "lan0"
	dev.State = model.DeviceStateDisconnected
	require.NoError(t, s.client.UpdateDevice(ctx, "eth0", dev))

	// Same object, new name, and no addresses once disconnected.
	assert.Equal(t, "lan0", s.bus.mustGet(t, path, IfaceDevice, "Name"))
	assert.Equal(t, []string{}, s.bus.mustGet(t, path, IfaceDevice, "Addresses"))

	require.NoError(t, s.client.RemoveDevice(ctx, "lan0"))
	assert.Empty(t, s.bus.interfaces(path))
	assert.Empty(t, s.tree.DevicesPaths())
}
