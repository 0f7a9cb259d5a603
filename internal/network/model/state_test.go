// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"grimm.is/netinstall/internal/errors"
)

func testState(t *testing.T) (*NetworkState, *Connection, *Connection, *Connection) {
	t.Helper()
	s := NewNetworkState(nil, nil)
	bond := NewConnection("bond0", KindBond)
	eth0 := NewConnection("eth0", KindEthernet)
	eth0.Interface = "enp1s0"
	eth1 := NewConnection("eth1", KindEthernet)
	for _, c := range []*Connection{bond, eth0, eth1} {
		require.NoError(t, s.AddConnection(c))
	}
	return s, bond, eth0, eth1
}

func TestAddConnectionConflicts(t *testing.T) {
	s, _, eth0, _ := testState(t)

	err := s.AddConnection(NewConnection("eth0", KindEthernet))
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	dup := NewConnection("other", KindEthernet)
	dup.UUID = eth0.UUID
	err = s.AddConnection(dup)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	// A removed connection frees its id.
	require.NoError(t, s.RemoveConnection(eth0.UUID))
	assert.NoError(t, s.AddConnection(NewConnection("eth0", KindEthernet)))
}

func TestUpdateConnection(t *testing.T) {
	s, _, eth0, _ := testState(t)

	updated := eth0.Clone()
	updated.Interface = "enp2s0"
	require.NoError(t, s.UpdateConnection(updated))
	got, ok := s.GetConnection("eth0")
	require.True(t, ok)
	assert.Equal(t, "enp2s0", got.Interface)

	err := s.UpdateConnection(NewConnection("ghost", KindEthernet))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	renamed := eth0.Clone()
	renamed.ID = "eth1"
	err = s.UpdateConnection(renamed)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestRemoveAndForget(t *testing.T) {
	s, bond, eth0, _ := testState(t)
	require.NoError(t, s.SetPorts(bond.UUID, []string{"eth0"}))

	require.NoError(t, s.RemoveConnection(bond.UUID))
	c, ok := s.GetConnectionByUUID(bond.UUID)
	require.True(t, ok)
	assert.True(t, c.IsRemoved())
	_, ok = s.GetConnection("bond0")
	assert.False(t, ok)
	assert.Nil(t, eth0.Controller)
	assert.Len(t, s.LiveConnections(), 2)

	require.NoError(t, s.ForgetConnection(bond.UUID))
	_, ok = s.GetConnectionByUUID(bond.UUID)
	assert.False(t, ok)

	assert.True(t, errors.IsKind(s.ForgetConnection(uuid.New()), errors.KindNotFound))
	assert.True(t, errors.IsKind(s.RemoveConnection(uuid.New()), errors.KindNotFound))
}

func TestSetPorts(t *testing.T) {
	s, bond, eth0, eth1 := testState(t)

	// Ports are matched by interface name or by id.
	require.NoError(t, s.SetPorts(bond.UUID, []string{"enp1s0", "eth1"}))
	require.NotNil(t, eth0.Controller)
	assert.Equal(t, bond.UUID, *eth0.Controller)
	require.NotNil(t, eth1.Controller)

	ports, err := s.PortsOf(bond.UUID)
	require.NoError(t, err)
	assert.Equal(t, []string{"enp1s0", "eth1"}, ports)

	// Dropping a port detaches it.
	require.NoError(t, s.SetPorts(bond.UUID, []string{"eth1"}))
	assert.Nil(t, eth0.Controller)

	// An unknown port leaves the state untouched.
	err = s.SetPorts(bond.UUID, []string{"eth0", "missing"})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
	assert.Nil(t, eth0.Controller)
	assert.NotNil(t, eth1.Controller)

	err = s.SetPorts(uuid.New(), nil)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	err = s.SetPorts(eth0.UUID, []string{"eth1"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = s.PortsOf(uuid.New())
	assert.Error(t, err)
}

func TestDevices(t *testing.T) {
	s := NewNetworkState(nil, nil)
	dev := &Device{
		Name:     "eth0",
		Type:     DeviceTypeEthernet,
		State:    DeviceStateDisconnected,
		IPConfig: &IPConfig{Addresses: []netip.Prefix{netip.MustParsePrefix("10.0.0.2/24")}},
	}
	require.NoError(t, s.AddDevice(dev))
	assert.Nil(t, dev.IPConfig, "ip config only exists while connected")
	assert.True(t, errors.IsKind(s.AddDevice(&Device{Name: "eth0"}), errors.KindConflict))

	up := &Device{Name: "eth0", State: DeviceStateConnected, IPConfig: &IPConfig{}}
	require.NoError(t, s.UpdateDevice("eth0", up))
	got, ok := s.GetDevice("eth0")
	require.True(t, ok)
	assert.NotNil(t, got.IPConfig)

	assert.True(t, errors.IsKind(s.UpdateDevice("wlan0", up), errors.KindNotFound))
	require.NoError(t, s.RemoveDevice("eth0"))
	assert.True(t, errors.IsKind(s.RemoveDevice("eth0"), errors.KindNotFound))
}

func TestCloneIsDeep(t *testing.T) {
	s, bond, eth0, _ := testState(t)
	require.NoError(t, s.SetPorts(bond.UUID, []string{"eth0"}))
	eth0.IPConfig.Addresses = []netip.Prefix{netip.MustParsePrefix("192.168.1.2/24")}

	c := s.Clone()
	cEth0, _ := c.GetConnection("eth0")
	cEth0.IPConfig.Addresses[0] = netip.MustParsePrefix("10.1.1.1/8")
	*cEth0.Controller = uuid.New()
	cBond, _ := c.GetConnection("bond0")
	cBond.Config.Bond.Options["miimon"] = "100"

	assert.Equal(t, "192.168.1.2/24", eth0.IPConfig.Addresses[0].String())
	assert.Equal(t, bond.UUID, *eth0.Controller)
	assert.Empty(t, bond.Config.Bond.Options)
}

func TestLiveIDsStayUnique(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := NewNetworkState(nil, nil)
		ids := rapid.SliceOf(rapid.SampledFrom([]string{"eth0", "eth1", "wlan0", "bond0"})).Draw(t, "ids")
		for i, id := range ids {
			conn := NewConnection(id, KindEthernet)
			if err := s.AddConnection(conn); err != nil {
				continue
			}
			if i%3 == 0 {
				_ = s.RemoveConnection(conn.UUID)
			}
		}
		seen := map[string]bool{}
		for _, c := range s.LiveConnections() {
			if seen[c.ID] {
				t.Fatalf("duplicate live id %s", c.ID)
			}
			seen[c.ID] = true
		}
	})
}

func TestDedupConnectionIDs(t *testing.T) {
	a := NewConnection("eth0", KindEthernet)
	b := NewConnection("eth0", KindEthernet)
	literal := NewConnection("eth0-1", KindEthernet)
	c := NewConnection("eth0", KindEthernet)
	gone := NewConnection("eth0", KindEthernet)
	gone.Status = StatusRemoved
	s := NewNetworkState(nil, []*Connection{a, b, literal, gone, c})

	alloc := NewIDAllocator()
	renamed := s.DedupConnectionIDs(alloc)
	assert.Equal(t, map[uuid.UUID]string{b.UUID: "eth0-2", c.UUID: "eth0-3"}, renamed)
	assert.Equal(t, "eth0", a.ID)
	assert.Equal(t, "eth0-1", literal.ID)
	assert.Equal(t, "eth0", gone.ID, "removed connections keep their id")
	assert.Empty(t, s.DedupConnectionIDs(alloc))

	// Suffixes are not reused once issued.
	assert.Equal(t, "eth0-4", alloc.Unique("eth0", []string{"eth0"}))
	assert.Equal(t, "wlan0", alloc.Unique("wlan0", []string{"eth0"}))
}

func TestDedupRestoresUniqueness(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOf(rapid.SampledFrom([]string{"eth0", "eth0-1", "eth0-2", "wlan0"})).Draw(t, "ids")
		var conns []*Connection
		for _, id := range ids {
			conns = append(conns, NewConnection(id, KindEthernet))
		}
		s := NewNetworkState(nil, conns)
		s.DedupConnectionIDs(NewIDAllocator())
		seen := map[string]bool{}
		for _, c := range s.LiveConnections() {
			if seen[c.ID] {
				t.Fatalf("duplicate live id %s", c.ID)
			}
			seen[c.ID] = true
		}
	})
}

func ExampleNetworkState_PortsOf() {
	s := NewNetworkState(nil, nil)
	bond := NewConnection("bond0", KindBond)
	port := NewConnection("eth0", KindEthernet)
	port.Interface = "enp1s0"
	_ = s.AddConnection(bond)
	_ = s.AddConnection(port)
	_ = s.SetPorts(bond.UUID, []string{"eth0"})
	ports, _ := s.PortsOf(bond.UUID)
	fmt.Println(ports)
	// Output: [enp1s0]
}
