// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nm

import (
	"maps"
	"net/netip"

	godbus "github.com/godbus/dbus/v5"

	"grimm.is/netinstall/internal/network/model"
)

// ConnectionToDBus encodes conn as a settings bag. controller is the
// connection conn is a port of, or nil.
func ConnectionToDBus(conn *model.Connection, controller *model.Connection) Settings {
	base := Props{
		"id":   godbus.MakeVariant(conn.ID),
		"uuid": godbus.MakeVariant(conn.UUID.String()),
		"type": godbus.MakeVariant(connectionTypes[conn.Config.Kind]),
	}
	if conn.Interface != "" {
		base["interface-name"] = godbus.MakeVariant(conn.Interface)
	}
	if controller != nil {
		base["master"] = godbus.MakeVariant(controller.UUID.String())
		base["slave-type"] = godbus.MakeVariant(connectionTypes[controller.Config.Kind])
	}

	settings := Settings{sectionConnection: base}

	// Ports carry no IP configuration of their own.
	if controller == nil {
		settings[sectionIPv4] = encodeIPv4(conn.IPConfig)
		settings[sectionIPv6] = encodeIPv6(conn.IPConfig)
	}

	if !conn.Match.IsEmpty() {
		settings[sectionMatch] = encodeMatch(conn.Match)
	}

	switch conn.Config.Kind {
	case model.KindWireless:
		w := conn.Config.Wireless
		wireless := Props{
			"mode":   godbus.MakeVariant(w.Mode.String()),
			"ssid":   godbus.MakeVariant(w.SSID),
			"hidden": godbus.MakeVariant(w.Hidden),
		}
		if !conn.MacAddress.IsUnset() {
			wireless["assigned-mac-address"] = godbus.MakeVariant(conn.MacAddress.String())
		}
		settings[sectionWireless] = wireless
		security := Props{"key-mgmt": godbus.MakeVariant(w.Security.String())}
		if w.Password != "" {
			security["psk"] = godbus.MakeVariant(w.Password)
		}
		settings[sectionSecurity] = security
	case model.KindBond:
		opts := map[string]string{"mode": conn.Config.Bond.Mode.String()}
		maps.Copy(opts, conn.Config.Bond.Options)
		settings[sectionBond] = Props{"options": godbus.MakeVariant(opts)}
	case model.KindBridge:
		settings[sectionBridge] = Props{
			"stp":      godbus.MakeVariant(conn.Config.Bridge.STP),
			"priority": godbus.MakeVariant(conn.Config.Bridge.Priority),
		}
	case model.KindLoopback:
		settings[sectionLoopback] = Props{}
	case model.KindEthernet:
		eth := Props{}
		if !conn.MacAddress.IsUnset() {
			eth["assigned-mac-address"] = godbus.MakeVariant(conn.MacAddress.String())
		}
		settings[sectionEthernet] = eth
	}
	return settings
}

func encodeIPv4(cfg model.IPConfig) Props {
	ip := Props{
		"method":       godbus.MakeVariant(cfg.Method4.String()),
		"address-data": godbus.MakeVariant(encodeAddresses(cfg.Addresses4())),
		"route-data":   godbus.MakeVariant(encodeRoutes(cfg.Routes4)),
		"dns-data":     godbus.MakeVariant(encodeAddrs(cfg.Nameservers, true)),
	}
	if cfg.Gateway4.IsValid() {
		ip["gateway"] = godbus.MakeVariant(cfg.Gateway4.String())
	}
	return ip
}

func encodeIPv6(cfg model.IPConfig) Props {
	ip := Props{
		"method":       godbus.MakeVariant(cfg.Method6.String()),
		"address-data": godbus.MakeVariant(encodeAddresses(cfg.Addresses6())),
		"route-data":   godbus.MakeVariant(encodeRoutes(cfg.Routes6)),
		"dns-data":     godbus.MakeVariant(encodeAddrs(cfg.Nameservers, false)),
	}
	if cfg.Gateway6.IsValid() {
		ip["gateway"] = godbus.MakeVariant(cfg.Gateway6.String())
	}
	return ip
}

func encodeAddresses(prefixes []netip.Prefix) []map[string]godbus.Variant {
	out := make([]map[string]godbus.Variant, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, encodeAddress(p))
	}
	return out
}

func encodeAddrs(addrs []netip.Addr, v4 bool) []string {
	out := []string{}
	for _, a := range addrs {
		if a.Is4() == v4 {
			out = append(out, a.String())
		}
	}
	return out
}

func encodeRoutes(routes []model.IPRoute) []map[string]godbus.Variant {
	out := make([]map[string]godbus.Variant, 0, len(routes))
	for _, r := range routes {
		p := Props{
			"dest":   godbus.MakeVariant(r.Destination.Addr().String()),
			"prefix": godbus.MakeVariant(uint32(r.Destination.Bits())),
		}
		if r.NextHop.IsValid() {
			p["next-hop"] = godbus.MakeVariant(r.NextHop.String())
		}
		if r.Metric != nil {
			p["metric"] = godbus.MakeVariant(*r.Metric)
		}
		out = append(out, p)
	}
	return out
}

func encodeMatch(m model.MatchConfig) Props {
	p := Props{}
	add := func(key string, values []string) {
		if len(values) > 0 {
			p[key] = godbus.MakeVariant(values)
		}
	}
	add("driver", m.Driver)
	add("path", m.Path)
	add("interface-name", m.Interface)
	add("kernel-command-line", m.Kernel)
	return p
}

// Keys owned by the encoder: when the updated bag lacks them they are
// removed from the merged result instead of being carried over.
var ownedKeys = map[string][]string{
	sectionConnection: {"interface-name", "master", "slave-type", "controller", "port-type"},
	sectionIPv4:       {"gateway"},
	sectionIPv6:       {"gateway"},
	sectionEthernet:   {"assigned-mac-address", "cloned-mac-address"},
	sectionWireless:   {"assigned-mac-address", "cloned-mac-address"},
	sectionSecurity:   {"psk"},
}

// Legacy keys that conflict with the *-data keys the encoder writes.
var legacyKeys = map[string][]string{
	sectionIPv4: {"addresses", "dns", "routes"},
	sectionIPv6: {"addresses", "dns", "routes"},
}

// Sections tied to a connection kind. They are dropped when the updated
// connection is of another kind.
var kindSections = []string{sectionWireless, sectionSecurity, sectionBond, sectionBridge, sectionLoopback, sectionMatch}

// MergeSettings overlays updated onto original, preserving settings the
// encoder does not know about (secrets, 802-1x, proxy...).
func MergeSettings(original, updated Settings) Settings {
	merged := make(Settings, len(original))
	for name, props := range original {
		merged[name] = maps.Clone(props)
	}
	for _, name := range kindSections {
		if _, ok := updated[name]; !ok {
			delete(merged, name)
		}
	}
	for name, props := range updated {
		target := merged[name]
		if target == nil {
			target = Props{}
			merged[name] = target
		}
		for _, key := range ownedKeys[name] {
			if _, ok := props[key]; !ok {
				delete(target, key)
			}
		}
		for _, key := range legacyKeys[name] {
			delete(target, key)
		}
		maps.Copy(target, props)
	}
	// Ports have no IP sections of their own.
	if _, ok := updated[sectionIPv4]; !ok {
		delete(merged, sectionIPv4)
		delete(merged, sectionIPv6)
	}
	return merged
}
