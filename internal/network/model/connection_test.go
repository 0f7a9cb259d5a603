// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netinstall/internal/errors"
)

func TestNewConfigPayloads(t *testing.T) {
	for _, kind := range []ConnectionKind{KindEthernet, KindWireless, KindBond, KindBridge, KindLoopback, KindDummy} {
		cfg := NewConfig(kind)
		assert.True(t, cfg.Valid(), kind.String())
	}

	bad := NewConfig(KindEthernet)
	bad.Bond = &BondConfig{}
	assert.False(t, bad.Valid())
	assert.False(t, ConnectionConfig{Kind: KindWireless}.Valid())
	assert.False(t, ConnectionConfig{Kind: ConnectionKind(42)}.Valid())
}

func TestParseConnectionKind(t *testing.T) {
	k, err := ParseConnectionKind("Wireless")
	require.NoError(t, err)
	assert.Equal(t, KindWireless, k)

	_, err = ParseConnectionKind("vlan")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestSecurityProtocol(t *testing.T) {
	tests := map[string]SecurityProtocol{
		"none":                SecurityWEP,
		"owe":                 SecurityOWE,
		"ieee8021x":           SecurityDynamicWEP,
		"wpa-psk":             SecurityWPA2,
		"sae":                 SecurityWPA3Personal,
		"wpa-eap":             SecurityWPA2Enterprise,
		"wpa-eap-suite-b-192": SecurityWPA3Only,
	}
	for in, want := range tests {
		got, err := ParseSecurityProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
		assert.Equal(t, in, got.String())
	}

	_, err := ParseSecurityProtocol("wpa-none")
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	var zero SecurityProtocol
	assert.Equal(t, SecurityWPA2, zero)
}

func TestWirelessMode(t *testing.T) {
	assert.Equal(t, WirelessModeInfra, ParseWirelessMode("infrastructure"))
	assert.Equal(t, WirelessModeAP, ParseWirelessMode("ap"))
	assert.Equal(t, WirelessModeUnknown, ParseWirelessMode("unknown"))
	assert.Equal(t, WirelessModeUnknown, ParseWirelessMode("monitor"))
}

func TestBondOptions(t *testing.T) {
	opts, err := ParseBondOptions("  miimon=100 lacp_rate=fast ")
	require.NoError(t, err)
	assert.Equal(t, BondOptions{"miimon": "100", "lacp_rate": "fast"}, opts)
	assert.Equal(t, "lacp_rate=fast miimon=100", opts.String())

	_, err = ParseBondOptions("miimon")
	assert.Error(t, err)

	empty, err := ParseBondOptions("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBondMode(t *testing.T) {
	m, err := ParseBondMode("802.3ad")
	require.NoError(t, err)
	assert.Equal(t, BondModeLACP, m)

	m, err = ParseBondMode("1")
	require.NoError(t, err)
	assert.Equal(t, BondModeActiveBackup, m)

	_, err = ParseBondMode("9")
	assert.Error(t, err)
}

func TestConnectionStatus(t *testing.T) {
	c := NewConnection("eth0", KindEthernet)
	assert.True(t, c.IsUp())
	c.SetUp(false)
	assert.Equal(t, StatusDown, c.Status)
	c.Status = StatusRemoved
	c.SetUp(true)
	assert.True(t, c.IsRemoved())
}

func TestConnectionPortName(t *testing.T) {
	c := NewConnection("port0", KindEthernet)
	assert.Equal(t, "port0", c.PortName())
	c.Interface = "eth3"
	assert.Equal(t, "eth3", c.PortName())
}

func TestIPConfigHelpers(t *testing.T) {
	addrs, err := ParseAddresses([]string{"192.168.0.10/24", "fd00::2/64", "10.0.0.1"})
	require.NoError(t, err)
	cfg := IPConfig{Addresses: addrs}
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.168.0.10/24"), netip.MustParsePrefix("10.0.0.1/32")}, cfg.Addresses4())
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("fd00::2/64")}, cfg.Addresses6())

	_, err = ParseAddresses([]string{"nope"})
	assert.Error(t, err)

	dns, err := ParseNameservers([]string{"1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, []netip.Addr{netip.MustParseAddr("1.1.1.1")}, dns)

	m, err := ParseIPv4Method("manual")
	require.NoError(t, err)
	assert.Equal(t, IPv4MethodManual, m)
	_, err = ParseIPv6Method("shared")
	assert.Error(t, err)
}

func TestParseMacAddress(t *testing.T) {
	m, err := ParseMacAddress("")
	require.NoError(t, err)
	assert.True(t, m.IsUnset())

	m, err = ParseMacAddress("Random")
	require.NoError(t, err)
	assert.Equal(t, MacRandom, m.Kind)
	assert.Equal(t, "random", m.String())

	m, err = ParseMacAddress("52:54:00:ab:cd:ef")
	require.NoError(t, err)
	assert.Equal(t, MacCustom, m.Kind)
	assert.Equal(t, "52:54:00:AB:CD:EF", m.String())
	upper, err := ParseMacAddress(m.String())
	require.NoError(t, err)
	assert.True(t, m.Equal(upper))

	_, err = ParseMacAddress("zz:zz")
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}
