// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernel provides network backends that do not go through
// NetworkManager: a read-only view of the kernel's links over netlink and an
// in-memory manager for dry runs and tests.
package kernel

import (
	"context"
	"net"
	"net/netip"

	"github.com/google/uuid"
	"github.com/vishvananda/netlink"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/logging"
	"grimm.is/netinstall/internal/network/model"
)

// Family selects an address family.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

// Netlinker is the part of netlink the adapter uses. The real implementation
// only exists on Linux; tests inject their own.
type Netlinker interface {
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link, family Family) ([]netlink.Addr, error)
	RouteList(link netlink.Link, family Family) ([]netlink.Route, error)
	IsWireless(name string) bool
	// Driver returns the kernel driver bound to the interface, or "" when
	// it has none or cannot be queried.
	Driver(name string) string
}

// NetlinkAdapter reports the kernel's links as devices. Every link that is up
// also gets a generated connection describing its current addresses, so that
// it can be inspected, but nothing is ever written back.
type NetlinkAdapter struct {
	nl     Netlinker
	logger *logging.Logger
}

// NewNetlinkAdapter returns an adapter using nl, or the system netlink when
// nl is nil.
func NewNetlinkAdapter(nl Netlinker, logger *logging.Logger) *NetlinkAdapter {
	if nl == nil {
		nl = systemNetlinker{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &NetlinkAdapter{nl: nl, logger: logger.WithComponent("kernel")}
}

func (a *NetlinkAdapter) Read(ctx context.Context) (*model.NetworkState, error) {
	links, err := a.nl.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to list links")
	}

	var devices []*model.Device
	var conns []*model.Connection
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attrs := link.Attrs()
		typ, ok := a.deviceType(link)
		if !ok {
			a.logger.Debug("skipping link", "link", attrs.Name, "type", link.Type())
			continue
		}

		dev := &model.Device{
			Name:  attrs.Name,
			Type:  typ,
			State: linkState(attrs),
		}
		if len(attrs.HardwareAddr) > 0 {
			dev.MacAddress = model.CustomMac(attrs.HardwareAddr)
		}
		if dev.State == model.DeviceStateConnected {
			dev.IPConfig = a.ipConfig(link)
			dev.Connection = attrs.Name
			conn := generatedConnection(dev)
			if typ == model.DeviceTypeEthernet || typ == model.DeviceTypeWireless {
				if driver := a.nl.Driver(attrs.Name); driver != "" {
					conn.Match.Driver = []string{driver}
				}
			}
			conns = append(conns, conn)
		}
		devices = append(devices, dev)
	}
	return model.NewNetworkState(devices, conns), nil
}

// Write always fails: the kernel backend is read-only.
func (a *NetlinkAdapter) Write(context.Context, *model.NetworkState) error {
	return errors.New(errors.KindUnavailable, "kernel backend is read-only")
}

func (a *NetlinkAdapter) deviceType(link netlink.Link) (model.DeviceType, bool) {
	switch link.Type() {
	case "bond":
		return model.DeviceTypeBond, true
	case "bridge":
		return model.DeviceTypeBridge, true
	case "dummy":
		return model.DeviceTypeDummy, true
	case "device":
		attrs := link.Attrs()
		switch {
		case attrs.Flags&net.FlagLoopback != 0:
			return model.DeviceTypeLoopback, true
		case a.nl.IsWireless(attrs.Name):
			return model.DeviceTypeWireless, true
		}
		return model.DeviceTypeEthernet, true
	}
	return 0, false
}

// linkState maps the operational state of a link. Loopback and dummy links
// report an unknown operstate while being perfectly usable, so an
// administratively up link in that state counts as connected.
func linkState(attrs *netlink.LinkAttrs) model.DeviceState {
	if attrs.Flags&net.FlagUp == 0 {
		return model.DeviceStateDisconnected
	}
	switch attrs.OperState {
	case netlink.OperUp, netlink.OperUnknown:
		return model.DeviceStateConnected
	case netlink.OperDormant, netlink.OperTesting:
		return model.DeviceStateConnecting
	case netlink.OperNotPresent:
		return model.DeviceStateUnavailable
	case netlink.OperDown, netlink.OperLowerLayerDown:
		return model.DeviceStateDisconnected
	}
	return model.DeviceStateUnknown
}

func (a *NetlinkAdapter) ipConfig(link netlink.Link) *model.IPConfig {
	cfg := &model.IPConfig{Method4: model.IPv4MethodManual, Method6: model.IPv6MethodManual}
	for _, family := range []Family{FamilyV4, FamilyV6} {
		addrs, err := a.nl.AddrList(link, family)
		if err != nil {
			a.logger.Debug("cannot list addresses", "link", link.Attrs().Name, "error", err)
		}
		for _, addr := range addrs {
			if p, ok := prefixOf(addr.IPNet); ok {
				cfg.Addresses = append(cfg.Addresses, p)
			}
		}

		routes, err := a.nl.RouteList(link, family)
		if err != nil {
			a.logger.Debug("cannot list routes", "link", link.Attrs().Name, "error", err)
		}
		for _, r := range routes {
			a.addRoute(cfg, family, r)
		}
	}
	return cfg
}

func (a *NetlinkAdapter) addRoute(cfg *model.IPConfig, family Family, r netlink.Route) {
	hop, _ := netip.AddrFromSlice(r.Gw)
	hop = hop.Unmap()
	dst, ok := prefixOf(r.Dst)
	if !ok || dst.Bits() == 0 {
		// Default route.
		if !hop.IsValid() {
			return
		}
		if family == FamilyV4 {
			cfg.Gateway4 = hop
		} else {
			cfg.Gateway6 = hop
		}
		return
	}
	route := model.IPRoute{Destination: dst.Masked(), NextHop: hop}
	if r.Priority > 0 {
		metric := uint32(r.Priority)
		route.Metric = &metric
	}
	if family == FamilyV4 {
		cfg.Routes4 = append(cfg.Routes4, route)
	} else {
		cfg.Routes6 = append(cfg.Routes6, route)
	}
}

func prefixOf(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	bits, _ := n.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), bits), true
}

func generatedConnection(dev *model.Device) *model.Connection {
	kind := model.KindEthernet
	switch dev.Type {
	case model.DeviceTypeLoopback:
		kind = model.KindLoopback
	case model.DeviceTypeWireless:
		kind = model.KindWireless
	case model.DeviceTypeBond:
		kind = model.KindBond
	case model.DeviceTypeBridge:
		kind = model.KindBridge
	case model.DeviceTypeDummy:
		kind = model.KindDummy
	}
	conn := model.NewConnection(dev.Name, kind)
	// Stable across reads so that the same link keeps its identity.
	conn.UUID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("netinstall/kernel/"+dev.Name))
	conn.Interface = dev.Name
	conn.Generated = true
	if dev.IPConfig != nil {
		conn.IPConfig = dev.IPConfig.Clone()
	}
	return conn
}
