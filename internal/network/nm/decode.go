// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"net/netip"

	"github.com/google/uuid"

	"grimm.is/netinstall/internal/network/model"
)

// Setting section names.
const (
	sectionConnection = "connection"
	sectionIPv4       = "ipv4"
	sectionIPv6       = "ipv6"
	sectionEthernet   = "802-3-ethernet"
	sectionWireless   = "802-11-wireless"
	sectionSecurity   = "802-11-wireless-security"
	sectionBond       = "bond"
	sectionBridge     = "bridge"
	sectionMatch      = "match"
	sectionLoopback   = "loopback"
)

// connection.type values, indexed by kind.
var connectionTypes = map[model.ConnectionKind]string{
	model.KindEthernet: sectionEthernet,
	model.KindWireless: sectionWireless,
	model.KindBond:     "bond",
	model.KindBridge:   "bridge",
	model.KindLoopback: "loopback",
	model.KindDummy:    "dummy",
}

// ConnectionFromDBus decodes a settings bag. It returns false when the bag
// has no connection section or no id; every other field is optional.
func ConnectionFromDBus(settings Settings) (*model.Connection, bool) {
	base, ok := section(settings, sectionConnection)
	if !ok {
		return nil, false
	}
	id, ok := field[string](base, "id")
	if !ok {
		return nil, false
	}

	conn := &model.Connection{ID: id, Status: model.StatusUp}
	if u, ok := parsed(base, "uuid", uuid.Parse); ok {
		conn.UUID = u
	} else {
		conn.UUID = uuid.New()
	}
	conn.Interface, _ = field[string](base, "interface-name")
	if ctrl, ok := controllerUUID(base); ok {
		conn.Controller = &ctrl
	}

	if ip, ok := section(settings, sectionIPv4); ok {
		decodeIPv4(ip, &conn.IPConfig)
	}
	if ip, ok := section(settings, sectionIPv6); ok {
		decodeIPv6(ip, &conn.IPConfig)
	}
	if m, ok := section(settings, sectionMatch); ok {
		conn.Match = decodeMatch(m)
	}

	conn.Config = decodeConfig(settings, base)
	conn.MacAddress = decodeMac(settings, conn.Config.Kind)
	return conn, true
}

// controllerUUID reads "controller" (newer NetworkManager) or "master". Only
// uuid references are understood; interface names are resolved by the adapter.
func controllerUUID(base Props) (uuid.UUID, bool) {
	if u, ok := parsed(base, "controller", uuid.Parse); ok {
		return u, true
	}
	return parsed(base, "master", uuid.Parse)
}

// controllerName returns the raw controller reference, whatever its form.
func controllerName(base Props) string {
	if s, ok := field[string](base, "controller"); ok {
		return s
	}
	s, _ := field[string](base, "master")
	return s
}

func decodeConfig(settings Settings, base Props) model.ConnectionConfig {
	if w, ok := section(settings, sectionWireless); ok {
		return model.ConnectionConfig{Kind: model.KindWireless, Wireless: decodeWireless(settings, w)}
	}
	typ, _ := field[string](base, "type")
	if b, ok := section(settings, sectionBond); ok || typ == "bond" {
		return model.ConnectionConfig{Kind: model.KindBond, Bond: decodeBond(b)}
	}
	if b, ok := section(settings, sectionBridge); ok || typ == "bridge" {
		return model.ConnectionConfig{Kind: model.KindBridge, Bridge: decodeBridge(b)}
	}
	if _, ok := section(settings, sectionLoopback); ok || typ == "loopback" {
		return model.ConnectionConfig{Kind: model.KindLoopback}
	}
	if typ == "dummy" {
		return model.ConnectionConfig{Kind: model.KindDummy}
	}
	return model.ConnectionConfig{Kind: model.KindEthernet}
}

func decodeWireless(settings Settings, w Props) *model.WirelessConfig {
	cfg := &model.WirelessConfig{}
	if mode, ok := field[string](w, "mode"); ok {
		cfg.Mode = model.ParseWirelessMode(mode)
	} else {
		cfg.Mode = model.WirelessModeInfra
	}
	cfg.SSID, _ = field[[]byte](w, "ssid")
	cfg.Hidden, _ = field[bool](w, "hidden")

	if sec, ok := section(settings, sectionSecurity); ok {
		if p, ok := parsed(sec, "key-mgmt", model.ParseSecurityProtocol); ok {
			cfg.Security = p
		}
		cfg.Password, _ = field[string](sec, "psk")
	}
	return cfg
}

func decodeBond(b Props) *model.BondConfig {
	cfg := &model.BondConfig{Options: model.BondOptions{}}
	opts, _ := field[map[string]string](b, "options")
	for k, v := range opts {
		if k == "mode" {
			if m, err := model.ParseBondMode(v); err == nil {
				cfg.Mode = m
			}
			continue
		}
		cfg.Options[k] = v
	}
	return cfg
}

func decodeBridge(b Props) *model.BridgeConfig {
	cfg := &model.BridgeConfig{STP: true, Priority: 32768}
	if stp, ok := field[bool](b, "stp"); ok {
		cfg.STP = stp
	}
	if prio, ok := field[uint32](b, "priority"); ok {
		cfg.Priority = prio
	}
	return cfg
}

func decodeMatch(m Props) model.MatchConfig {
	cfg := model.MatchConfig{}
	cfg.Driver, _ = field[[]string](m, "driver")
	cfg.Path, _ = field[[]string](m, "path")
	cfg.Interface, _ = field[[]string](m, "interface-name")
	cfg.Kernel, _ = field[[]string](m, "kernel-command-line")
	return cfg
}

func decodeMac(settings Settings, kind model.ConnectionKind) model.MacAddress {
	name := sectionEthernet
	if kind == model.KindWireless {
		name = sectionWireless
	}
	s, ok := section(settings, name)
	if !ok {
		return model.MacAddress{}
	}
	if mac, ok := parsed(s, "assigned-mac-address", model.ParseMacAddress); ok {
		return mac
	}
	if raw, ok := field[[]byte](s, "cloned-mac-address"); ok && len(raw) == 6 {
		return model.CustomMac(raw)
	}
	return model.MacAddress{}
}

func decodeIPv4(ip Props, cfg *model.IPConfig) {
	if m, ok := parsed(ip, "method", model.ParseIPv4Method); ok {
		cfg.Method4 = m
	}
	cfg.Addresses = append(cfg.Addresses, list(ip, "address-data", decodeAddress)...)
	if gw, ok := parsed(ip, "gateway", netip.ParseAddr); ok {
		cfg.Gateway4 = gw
	}
	if dns := stringList(ip, "dns-data", netip.ParseAddr); dns != nil {
		cfg.Nameservers = append(cfg.Nameservers, dns...)
	} else if legacy, ok := field[[]uint32](ip, "dns"); ok {
		for _, v := range legacy {
			cfg.Nameservers = append(cfg.Nameservers, ipv4FromUint32(v))
		}
	}
	cfg.Routes4 = list(ip, "route-data", decodeRoute)
}

func decodeIPv6(ip Props, cfg *model.IPConfig) {
	if m, ok := parsed(ip, "method", model.ParseIPv6Method); ok {
		cfg.Method6 = m
	}
	cfg.Addresses = append(cfg.Addresses, list(ip, "address-data", decodeAddress)...)
	if gw, ok := parsed(ip, "gateway", netip.ParseAddr); ok {
		cfg.Gateway6 = gw
	}
	cfg.Nameservers = append(cfg.Nameservers, stringList(ip, "dns-data", netip.ParseAddr)...)
	cfg.Routes6 = list(ip, "route-data", decodeRoute)
}

// decodeRoute decodes {dest: s, prefix: u, next-hop: s, metric: u}.
func decodeRoute(p Props) (model.IPRoute, bool) {
	dest, ok := parsed(p, "dest", netip.ParseAddr)
	if !ok {
		return model.IPRoute{}, false
	}
	prefix, ok := field[uint32](p, "prefix")
	if !ok {
		return model.IPRoute{}, false
	}
	route := model.IPRoute{Destination: netip.PrefixFrom(dest, int(prefix))}
	if !route.Destination.IsValid() {
		return model.IPRoute{}, false
	}
	if hop, ok := parsed(p, "next-hop", netip.ParseAddr); ok {
		route.NextHop = hop
	}
	if metric, ok := field[uint32](p, "metric"); ok {
		route.Metric = &metric
	}
	return route, true
}
