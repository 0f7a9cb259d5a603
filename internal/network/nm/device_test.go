// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"net/netip"
	"testing"

	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

func TestDeviceStateFromNM(t *testing.T) {
	tests := []struct {
		state, reason uint32
		want          model.DeviceState
	}{
		{0, 0, model.DeviceStateUnknown},
		{10, 0, model.DeviceStateUnmanaged},
		{20, 0, model.DeviceStateUnavailable},
		{40, 0, model.DeviceStateConnecting},
		{50, 0, model.DeviceStateConnecting},
		{60, 0, model.DeviceStateConnecting},
		{70, 0, model.DeviceStateConnecting},
		{80, 0, model.DeviceStateConnecting},
		{90, 0, model.DeviceStateConnecting},
		{100, 0, model.DeviceStateConnected},
		{110, 0, model.DeviceStateDisconnecting},
		{30, ReasonUserRequested, model.DeviceStateDisconnected},
		{30, 0, model.DeviceStateFailed},
		{30, 36, model.DeviceStateFailed},
		{120, 0, model.DeviceStateFailed},
		{999, 0, model.DeviceStateUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeviceStateFromNM(tt.state, tt.reason), "state %d reason %d", tt.state, tt.reason)
	}
}

func TestDeviceTypeFromNM(t *testing.T) {
	for code, want := range map[uint32]model.DeviceType{
		1: model.DeviceTypeEthernet, 2: model.DeviceTypeWireless, 10: model.DeviceTypeBond,
		13: model.DeviceTypeBridge, 22: model.DeviceTypeDummy, 32: model.DeviceTypeLoopback,
	} {
		got, err := DeviceTypeFromNM(code)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := DeviceTypeFromNM(14) // olpc-mesh
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestDeviceFromDBusActivated(t *testing.T) {
	props := ethernetDevice("eth0", 100, 0, "/ip4/1")
	ip4 := ip4Config("192.168.0.10", 24, "192.168.0.1", "192.168.0.2")
	ip6 := Props{
		"AddressData":    v([]map[string]godbus.Variant{{"address": v("fd00::10"), "prefix": v(uint32(64))}}),
		"Gateway":        v("fd00::1"),
		"NameserverData": v([]map[string]godbus.Variant{{"address": v("fd00::53")}}),
	}

	dev, err := DeviceFromDBus(props, ip4, ip6)
	require.NoError(t, err)
	assert.Equal(t, "eth0", dev.Name)
	assert.Equal(t, model.DeviceTypeEthernet, dev.Type)
	assert.Equal(t, model.DeviceStateConnected, dev.State)
	assert.Equal(t, "52:54:00:12:34:56", dev.MacAddress.String())
	require.NotNil(t, dev.IPConfig)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("192.168.0.10/24"),
		netip.MustParsePrefix("fd00::10/64"),
	}, dev.IPConfig.Addresses)
	assert.Equal(t, netip.MustParseAddr("192.168.0.1"), dev.IPConfig.Gateway4)
	assert.Equal(t, netip.MustParseAddr("fd00::1"), dev.IPConfig.Gateway6)
	// Only IPv4 nameservers are collected.
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.0.2")}, dev.IPConfig.Nameservers)
}

func TestDeviceFromDBusNotActivated(t *testing.T) {
	props := ethernetDevice("eth1", 30, ReasonUserRequested, noPath)
	props["HwAddress"] = v("not a mac")

	dev, err := DeviceFromDBus(props, ip4Config("10.0.0.2", 8, "", ""), nil)
	require.NoError(t, err)
	assert.Equal(t, model.DeviceStateDisconnected, dev.State)
	assert.Nil(t, dev.IPConfig)
	assert.True(t, dev.MacAddress.IsUnset())
}

func TestDeviceFromDBusRejects(t *testing.T) {
	props := ethernetDevice("tun0", 100, 0, noPath)
	props["DeviceType"] = v(uint32(16)) // tun
	_, err := DeviceFromDBus(props, nil, nil)
	require.Error(t, err)
	assert.Equal(t, "tun0", errors.GetAttributes(err)["device"])

	delete(props, "Interface")
	_, err = DeviceFromDBus(props, nil, nil)
	assert.Error(t, err)
}
