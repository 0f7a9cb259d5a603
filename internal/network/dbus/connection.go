// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"context"
	"fmt"
	"net/netip"
	"slices"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/google/uuid"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

// connectionMediator serves one interface of a connection object. Reads
// fetch the connection from the control loop; writes fetch it, change the
// copy and send it back.
type connectionMediator struct {
	name    string
	props   table[*model.Connection]
	backend Backend
	uuid    uuid.UUID
	// ports exposes the controller's ports as the Ports property.
	ports bool
}

const portsProperty = "Ports"

func (m *connectionMediator) Name() string { return m.name }

func (m *connectionMediator) Methods() map[string]any { return map[string]any{} }

func (m *connectionMediator) Introspect() introspect.Interface {
	iface := m.props.introspect(m.name)
	if m.ports {
		iface.Properties = append(iface.Properties, introspect.Property{Name: portsProperty, Type: "as", Access: "readwrite"})
	}
	return iface
}

var errNoBackend = errors.New(errors.KindUnavailable, "network system is not running")

func (m *connectionMediator) connection(ctx context.Context) (*model.Connection, error) {
	if m.backend == nil {
		return nil, errNoBackend
	}
	return m.backend.GetConnection(ctx, m.uuid)
}

func (m *connectionMediator) Get(ctx context.Context, prop string) (godbus.Variant, error) {
	if m.ports && prop == portsProperty {
		ports, err := m.portList(ctx)
		return godbus.MakeVariant(ports), err
	}
	p, ok := m.props.find(prop)
	if !ok {
		return godbus.Variant{}, unknownProperty(prop)
	}
	conn, err := m.connection(ctx)
	if err != nil {
		return godbus.Variant{}, err
	}
	return godbus.MakeVariant(p.get(conn)), nil
}

func (m *connectionMediator) GetAll(ctx context.Context) (map[string]godbus.Variant, error) {
	conn, err := m.connection(ctx)
	if err != nil {
		return nil, err
	}
	out := m.props.project(conn)
	if m.ports {
		ports, err := m.portList(ctx)
		if err != nil {
			return nil, err
		}
		out[portsProperty] = godbus.MakeVariant(ports)
	}
	return out, nil
}

func (m *connectionMediator) Set(ctx context.Context, prop string, value godbus.Variant) error {
	if m.ports && prop == portsProperty {
		ports, err := variantAs[[]string](value, prop)
		if err != nil {
			return err
		}
		if m.backend == nil {
			return errNoBackend
		}
		return m.backend.SetPorts(ctx, m.uuid, ports)
	}
	p, ok := m.props.find(prop)
	if !ok {
		return unknownProperty(prop)
	}
	if p.set == nil {
		return readOnly(prop)
	}
	conn, err := m.connection(ctx)
	if err != nil {
		return err
	}
	if err := p.set(conn, value); err != nil {
		return err
	}
	return m.backend.UpdateConnection(ctx, conn)
}

func (m *connectionMediator) portList(ctx context.Context) ([]string, error) {
	if m.backend == nil {
		return nil, errNoBackend
	}
	info, err := m.backend.GetController(ctx, m.uuid)
	if err != nil {
		return nil, err
	}
	if info.Ports == nil {
		return []string{}, nil
	}
	return info.Ports, nil
}

// connectionInterfaces lists the interfaces published for a connection of
// kind, in publication order.
func connectionInterfaces(kind model.ConnectionKind) []string {
	names := []string{IfaceConnection, IfaceIP, IfaceMatch}
	switch kind {
	case model.KindBond:
		names = append(names, IfaceBond)
	case model.KindWireless:
		names = append(names, IfaceWireless)
	}
	return names
}

// optionalInterface reports whether an interface depends on the kind of the
// connection, so that failing to retract it is not an error.
func optionalInterface(name string) bool {
	return name == IfaceBond || name == IfaceWireless
}

func connectionTable(name string) table[*model.Connection] {
	switch name {
	case IfaceConnection:
		return connectionProps
	case IfaceIP:
		return ipProps
	case IfaceMatch:
		return matchProps
	case IfaceBond:
		return bondProps
	case IfaceWireless:
		return wirelessProps
	}
	panic(fmt.Sprintf("no connection interface %q", name))
}

func newConnectionMediator(name string, backend Backend, id uuid.UUID) *connectionMediator {
	return &connectionMediator{
		name:    name,
		props:   connectionTable(name),
		backend: backend,
		uuid:    id,
		ports:   name == IfaceBond,
	}
}

// bondOf and wirelessOf panic when an interface is served for a connection
// of another kind. The tree never attaches such an interface.
func bondOf(c *model.Connection) *model.BondConfig {
	if c.Config.Kind != model.KindBond || c.Config.Bond == nil {
		panic(fmt.Sprintf("bond interface on %s connection %q", c.Config.Kind, c.ID))
	}
	return c.Config.Bond
}

func wirelessOf(c *model.Connection) *model.WirelessConfig {
	if c.Config.Kind != model.KindWireless || c.Config.Wireless == nil {
		panic(fmt.Sprintf("wireless interface on %s connection %q", c.Config.Kind, c.ID))
	}
	return c.Config.Wireless
}

func setString(fn func(*model.Connection, string) error) func(*model.Connection, godbus.Variant) error {
	return func(c *model.Connection, v godbus.Variant) error {
		s, err := variantAs[string](v, "value")
		if err != nil {
			return err
		}
		return fn(c, s)
	}
}

func setStrings(fn func(*model.Connection, []string) error) func(*model.Connection, godbus.Variant) error {
	return func(c *model.Connection, v godbus.Variant) error {
		s, err := variantAs[[]string](v, "value")
		if err != nil {
			return err
		}
		return fn(c, s)
	}
}

var connectionProps = table[*model.Connection]{
	{name: "Id", sig: "s", get: func(c *model.Connection) any { return c.ID }},
	{name: "Uuid", sig: "s", get: func(c *model.Connection) any { return c.UUID.String() }},
	{name: "Controller", sig: "s", get: func(c *model.Connection) any {
		if c.Controller == nil {
			return ""
		}
		return c.Controller.String()
	}},
	{name: "Interface", sig: "s",
		get: func(c *model.Connection) any { return c.Interface },
		set: setString(func(c *model.Connection, s string) error {
			c.Interface = s
			return nil
		}),
	},
	{name: "MacAddress", sig: "s",
		get: func(c *model.Connection) any { return c.MacAddress.String() },
		set: setString(func(c *model.Connection, s string) error {
			mac, err := model.ParseMacAddress(s)
			if err != nil {
				return err
			}
			c.MacAddress = mac
			return nil
		}),
	},
	{name: "Active", sig: "b",
		get: func(c *model.Connection) any { return c.IsUp() },
		set: func(c *model.Connection, v godbus.Variant) error {
			up, err := variantAs[bool](v, "Active")
			if err != nil {
				return err
			}
			c.SetUp(up)
			return nil
		},
	},
}

var ipProps = table[*model.Connection]{
	{name: "Method4", sig: "s",
		get: func(c *model.Connection) any { return c.IPConfig.Method4.String() },
		set: setString(func(c *model.Connection, s string) error {
			m, err := model.ParseIPv4Method(s)
			if err != nil {
				return err
			}
			c.IPConfig.Method4 = m
			return nil
		}),
	},
	{name: "Method6", sig: "s",
		get: func(c *model.Connection) any { return c.IPConfig.Method6.String() },
		set: setString(func(c *model.Connection, s string) error {
			m, err := model.ParseIPv6Method(s)
			if err != nil {
				return err
			}
			c.IPConfig.Method6 = m
			return nil
		}),
	},
	{name: "Addresses", sig: "as",
		get: func(c *model.Connection) any { return prefixStrings(c.IPConfig.Addresses) },
		set: setStrings(func(c *model.Connection, s []string) error {
			addrs, err := model.ParseAddresses(s)
			if err != nil {
				return err
			}
			c.IPConfig.Addresses = addrs
			return nil
		}),
	},
	{name: "Nameservers", sig: "as",
		get: func(c *model.Connection) any { return addrStrings(c.IPConfig.Nameservers) },
		set: setStrings(func(c *model.Connection, s []string) error {
			ns, err := model.ParseNameservers(s)
			if err != nil {
				return err
			}
			c.IPConfig.Nameservers = ns
			return nil
		}),
	},
	{name: "Gateway4", sig: "s",
		get: func(c *model.Connection) any { return addrString(c.IPConfig.Gateway4) },
		set: setString(func(c *model.Connection, s string) error {
			gw, err := parseGateway(s, true)
			if err != nil {
				return err
			}
			c.IPConfig.Gateway4 = gw
			return nil
		}),
	},
	{name: "Gateway6", sig: "s",
		get: func(c *model.Connection) any { return addrString(c.IPConfig.Gateway6) },
		set: setString(func(c *model.Connection, s string) error {
			gw, err := parseGateway(s, false)
			if err != nil {
				return err
			}
			c.IPConfig.Gateway6 = gw
			return nil
		}),
	},
	{name: "Routes4", sig: "aa{sv}", get: func(c *model.Connection) any { return routeData(c.IPConfig.Routes4) }},
	{name: "Routes6", sig: "aa{sv}", get: func(c *model.Connection) any { return routeData(c.IPConfig.Routes6) }},
}

var matchProps = table[*model.Connection]{
	{name: "Driver", sig: "as",
		get: func(c *model.Connection) any { return nonNil(c.Match.Driver) },
		set: setStrings(func(c *model.Connection, s []string) error { c.Match.Driver = s; return nil }),
	},
	{name: "Path", sig: "as",
		get: func(c *model.Connection) any { return nonNil(c.Match.Path) },
		set: setStrings(func(c *model.Connection, s []string) error { c.Match.Path = s; return nil }),
	},
	{name: "Interface", sig: "as",
		get: func(c *model.Connection) any { return nonNil(c.Match.Interface) },
		set: setStrings(func(c *model.Connection, s []string) error { c.Match.Interface = s; return nil }),
	},
	{name: "Kernel", sig: "as",
		get: func(c *model.Connection) any { return nonNil(c.Match.Kernel) },
		set: setStrings(func(c *model.Connection, s []string) error { c.Match.Kernel = s; return nil }),
	},
}

var bondProps = table[*model.Connection]{
	{name: "Mode", sig: "s",
		get: func(c *model.Connection) any { return bondOf(c).Mode.String() },
		set: setString(func(c *model.Connection, s string) error {
			mode, err := model.ParseBondMode(s)
			if err != nil {
				return err
			}
			bondOf(c).Mode = mode
			return nil
		}),
	},
	{name: "Options", sig: "s",
		get: func(c *model.Connection) any { return bondOf(c).Options.String() },
		set: setString(func(c *model.Connection, s string) error {
			opts, err := model.ParseBondOptions(s)
			if err != nil {
				return err
			}
			bondOf(c).Options = opts
			return nil
		}),
	},
}

var wirelessProps = table[*model.Connection]{
	{name: "SSID", sig: "ay",
		get: func(c *model.Connection) any { return nonNil(wirelessOf(c).SSID) },
		set: func(c *model.Connection, v godbus.Variant) error {
			ssid, err := variantAs[[]byte](v, "SSID")
			if err != nil {
				return err
			}
			wirelessOf(c).SSID = ssid
			return nil
		},
	},
	{name: "Mode", sig: "s",
		get: func(c *model.Connection) any { return wirelessOf(c).Mode.String() },
		set: setString(func(c *model.Connection, s string) error {
			mode := model.ParseWirelessMode(s)
			if mode == model.WirelessModeUnknown {
				return model.InvalidValueError("wireless mode", s)
			}
			wirelessOf(c).Mode = mode
			return nil
		}),
	},
	{name: "Security", sig: "s",
		get: func(c *model.Connection) any { return wirelessOf(c).Security.String() },
		set: setString(func(c *model.Connection, s string) error {
			sec, err := model.ParseSecurityProtocol(s)
			if err != nil {
				return err
			}
			wirelessOf(c).Security = sec
			return nil
		}),
	},
	{name: "Password", sig: "s",
		get: func(c *model.Connection) any { return wirelessOf(c).Password },
		set: setString(func(c *model.Connection, s string) error {
			wirelessOf(c).Password = s
			return nil
		}),
	},
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return slices.Clone(s)
}

func prefixStrings(prefixes []netip.Prefix) []string {
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.String()
	}
	return out
}

func addrStrings(addrs []netip.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return ""
	}
	return a.String()
}

// parseGateway parses a gateway of one family. The empty string unsets it.
func parseGateway(s string, v4 bool) (netip.Addr, error) {
	if s == "" {
		return netip.Addr{}, nil
	}
	field := "ipv6 gateway"
	if v4 {
		field = "ipv4 gateway"
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || addr.Is4() != v4 {
		return netip.Addr{}, model.InvalidValueError(field, s)
	}
	return addr, nil
}

// routeData renders routes the way NetworkManager's RouteData does.
func routeData(routes []model.IPRoute) []map[string]godbus.Variant {
	out := make([]map[string]godbus.Variant, len(routes))
	for i, r := range routes {
		m := map[string]godbus.Variant{
			"dest":   godbus.MakeVariant(r.Destination.Addr().String()),
			"prefix": godbus.MakeVariant(uint32(r.Destination.Bits())),
		}
		if r.NextHop.IsValid() {
			m["next-hop"] = godbus.MakeVariant(r.NextHop.String())
		}
		if r.Metric != nil {
			m["metric"] = godbus.MakeVariant(*r.Metric)
		}
		out[i] = m
	}
	return out
}
