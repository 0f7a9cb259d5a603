// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

type mockNetlinker struct {
	links    []netlink.Link
	addrs    map[string][]netlink.Addr
	routes   map[string][]netlink.Route
	wireless map[string]bool
	drivers  map[string]string
}

func (m *mockNetlinker) LinkList() ([]netlink.Link, error) { return m.links, nil }

func (m *mockNetlinker) AddrList(link netlink.Link, family Family) ([]netlink.Addr, error) {
	var out []netlink.Addr
	for _, a := range m.addrs[link.Attrs().Name] {
		if (a.IP.To4() != nil) == (family == FamilyV4) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockNetlinker) RouteList(link netlink.Link, family Family) ([]netlink.Route, error) {
	var out []netlink.Route
	for _, r := range m.routes[link.Attrs().Name] {
		if (r.Gw.To4() != nil || (r.Dst != nil && r.Dst.IP.To4() != nil)) == (family == FamilyV4) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockNetlinker) IsWireless(name string) bool { return m.wireless[name] }

func (m *mockNetlinker) Driver(name string) string { return m.drivers[name] }

func mustAddr(t *testing.T, s string) netlink.Addr {
	t.Helper()
	a, err := netlink.ParseAddr(s)
	require.NoError(t, err)
	return *a
}

func cidr(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestNetlinkAdapterRead(t *testing.T) {
	mac, _ := net.ParseMAC("52:54:00:aa:bb:cc")
	up := net.FlagUp | net.FlagBroadcast
	nl := &mockNetlinker{
		links: []netlink.Link{
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, OperState: netlink.OperUnknown}},
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "eth0", Flags: up, OperState: netlink.OperUp, HardwareAddr: mac}},
			&netlink.Device{LinkAttrs: netlink.LinkAttrs{Name: "wlan0", Flags: 0, OperState: netlink.OperDown}},
			netlink.NewLinkBond(netlink.LinkAttrs{Name: "bond0", Flags: up, OperState: netlink.OperLowerLayerDown}),
			&netlink.Veth{LinkAttrs: netlink.LinkAttrs{Name: "veth0", Flags: up, OperState: netlink.OperUp}},
		},
		addrs: map[string][]netlink.Addr{
			"eth0": {mustAddr(t, "192.168.0.10/24"), mustAddr(t, "fd00::10/64")},
		},
		routes: map[string][]netlink.Route{
			"eth0": {
				{Gw: net.ParseIP("192.168.0.1")},
				{Dst: cidr(t, "10.1.0.0/16"), Gw: net.ParseIP("192.168.0.254"), Priority: 100},
			},
		},
		wireless: map[string]bool{"wlan0": true},
		drivers:  map[string]string{"eth0": "virtio_net", "lo": "unused"},
	}

	state, err := NewNetlinkAdapter(nl, nil).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Devices, 4, "veth links are skipped")

	lo, _ := state.GetDevice("lo")
	assert.Equal(t, model.DeviceTypeLoopback, lo.Type)
	assert.Equal(t, model.DeviceStateConnected, lo.State)

	wlan, _ := state.GetDevice("wlan0")
	assert.Equal(t, model.DeviceTypeWireless, wlan.Type)
	assert.Equal(t, model.DeviceStateDisconnected, wlan.State)
	assert.Nil(t, wlan.IPConfig)

	bond, _ := state.GetDevice("bond0")
	assert.Equal(t, model.DeviceTypeBond, bond.Type)
	assert.Equal(t, model.DeviceStateDisconnected, bond.State)

	eth, ok := state.GetDevice("eth0")
	require.True(t, ok)
	assert.Equal(t, "52:54:00:AA:BB:CC", eth.MacAddress.String())
	parsed, err := model.ParseMacAddress("52:54:00:aa:bb:cc")
	require.NoError(t, err)
	assert.True(t, eth.MacAddress.Equal(parsed), "kernel and configured addresses compare equal")
	require.NotNil(t, eth.IPConfig)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("192.168.0.10/24"),
		netip.MustParsePrefix("fd00::10/64"),
	}, eth.IPConfig.Addresses)
	assert.Equal(t, netip.MustParseAddr("192.168.0.1"), eth.IPConfig.Gateway4)
	require.Len(t, eth.IPConfig.Routes4, 1)
	assert.Equal(t, "10.1.0.0/16 via 192.168.0.254 metric 100", eth.IPConfig.Routes4[0].String())

	conn, ok := state.GetConnection("eth0")
	require.True(t, ok)
	assert.True(t, conn.Generated)
	assert.Equal(t, "eth0", conn.Interface)
	assert.Equal(t, []string{"virtio_net"}, conn.Match.Driver)

	loConn, ok := state.GetConnection("lo")
	require.True(t, ok)
	assert.Empty(t, loConn.Match.Driver, "only hardware links are matched by driver")

	again, err := NewNetlinkAdapter(nl, nil).Read(context.Background())
	require.NoError(t, err)
	conn2, _ := again.GetConnection("eth0")
	assert.Equal(t, conn.UUID, conn2.UUID, "identities are stable across reads")
}

func TestNetlinkAdapterWriteIsRejected(t *testing.T) {
	err := NewNetlinkAdapter(&mockNetlinker{}, nil).Write(context.Background(), model.NewNetworkState(nil, nil))
	assert.True(t, errors.IsKind(err, errors.KindUnavailable))
}

func TestMemoryAdapterRoundTrip(t *testing.T) {
	eth0 := &model.Device{Name: "eth0", Type: model.DeviceTypeEthernet, State: model.DeviceStateConnected}
	m := NewMemoryAdapter(model.NewNetworkState([]*model.Device{eth0}, nil))
	ctx := context.Background()

	state, err := m.Read(ctx)
	require.NoError(t, err)
	conn := model.NewConnection("wired", model.KindEthernet)
	conn.Interface = "eth0"
	gone := model.NewConnection("gone", model.KindEthernet)
	lo := model.NewConnection("lo", model.KindLoopback)
	for _, c := range []*model.Connection{conn, gone, lo} {
		require.NoError(t, state.AddConnection(c))
	}
	require.NoError(t, m.Write(ctx, state))

	require.NoError(t, state.RemoveConnection(gone.UUID))
	require.NoError(t, m.Write(ctx, state))
	assert.Equal(t, 2, m.Writes())

	got, err := m.Read(ctx)
	require.NoError(t, err)
	require.Len(t, got.Connections, 1)
	assert.Equal(t, "wired", got.Connections[0].ID)
	dev, _ := got.GetDevice("eth0")
	assert.Equal(t, "wired", dev.Connection)

	// Reads are copies.
	got.Connections[0].ID = "changed"
	again, _ := m.Read(ctx)
	assert.Equal(t, "wired", again.Connections[0].ID)
}

func TestMemoryAdapterNormalize(t *testing.T) {
	m := NewMemoryAdapter(nil)
	m.SetNormalize(func(c *model.Connection) error {
		if c.ID == "bad" {
			return fmt.Errorf("rejected")
		}
		c.IPConfig.Addresses = nil
		return nil
	})

	good := model.NewConnection("good", model.KindEthernet)
	good.IPConfig.Addresses = []netip.Prefix{netip.MustParsePrefix("10.0.0.5/8")}
	bad := model.NewConnection("bad", model.KindEthernet)
	err := m.Write(context.Background(), model.NewNetworkState(nil, []*model.Connection{good, bad}))

	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "bad", errors.GetAttributes(errs[0])["connection"])

	state, _ := m.Read(context.Background())
	stored, ok := state.GetConnectionByUUID(good.UUID)
	require.True(t, ok)
	assert.Empty(t, stored.IPConfig.Addresses)
	_, ok = state.GetConnectionByUUID(bad.UUID)
	assert.False(t, ok)
}
