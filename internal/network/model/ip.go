// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"fmt"
	"net/netip"
	"slices"
)

// IPv4Method is how a connection obtains its IPv4 configuration. The zero
// value is Auto, which is also the network manager's default.
type IPv4Method uint8

const (
	IPv4MethodAuto IPv4Method = iota
	IPv4MethodManual
	IPv4MethodDisabled
	IPv4MethodLinkLocal
)

var ipv4MethodNames = []string{"auto", "manual", "disabled", "link-local"}

func (m IPv4Method) String() string {
	if int(m) < len(ipv4MethodNames) {
		return ipv4MethodNames[m]
	}
	return fmt.Sprintf("IPv4Method(%d)", uint8(m))
}

func (m IPv4Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *IPv4Method) UnmarshalText(b []byte) error {
	parsed, err := ParseIPv4Method(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseIPv4Method parses the network manager's method names.
func ParseIPv4Method(s string) (IPv4Method, error) {
	if i := slices.Index(ipv4MethodNames, s); i >= 0 {
		return IPv4Method(i), nil
	}
	return 0, InvalidValueError("ipv4 method", s)
}

// IPv6Method is how a connection obtains its IPv6 configuration.
type IPv6Method uint8

const (
	IPv6MethodAuto IPv6Method = iota
	IPv6MethodManual
	IPv6MethodDisabled
	IPv6MethodLinkLocal
	IPv6MethodIgnore
	IPv6MethodDHCP
)

var ipv6MethodNames = []string{"auto", "manual", "disabled", "link-local", "ignore", "dhcp"}

func (m IPv6Method) String() string {
	if int(m) < len(ipv6MethodNames) {
		return ipv6MethodNames[m]
	}
	return fmt.Sprintf("IPv6Method(%d)", uint8(m))
}

func (m IPv6Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *IPv6Method) UnmarshalText(b []byte) error {
	parsed, err := ParseIPv6Method(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func ParseIPv6Method(s string) (IPv6Method, error) {
	if i := slices.Index(ipv6MethodNames, s); i >= 0 {
		return IPv6Method(i), nil
	}
	return 0, InvalidValueError("ipv6 method", s)
}

// IPRoute is a static route. A zero NextHop means on-link.
type IPRoute struct {
	Destination netip.Prefix `json:"destination" yaml:"destination"`
	NextHop     netip.Addr   `json:"nextHop,omitzero" yaml:"next_hop,omitempty"`
	Metric      *uint32      `json:"metric,omitempty" yaml:"metric,omitempty"`
}

func (r IPRoute) String() string {
	s := r.Destination.String()
	if r.NextHop.IsValid() {
		s += " via " + r.NextHop.String()
	}
	if r.Metric != nil {
		s += fmt.Sprintf(" metric %d", *r.Metric)
	}
	return s
}

// IPConfig holds addresses for both families, nameservers, gateways and routes.
// Zero gateways (netip.Addr{}) are unset.
type IPConfig struct {
	Method4     IPv4Method     `json:"method4" yaml:"method4"`
	Method6     IPv6Method     `json:"method6" yaml:"method6"`
	Addresses   []netip.Prefix `json:"addresses,omitempty" yaml:"addresses,omitempty"`
	Nameservers []netip.Addr   `json:"nameservers,omitempty" yaml:"nameservers,omitempty"`
	Gateway4    netip.Addr     `json:"gateway4,omitzero" yaml:"gateway4,omitempty"`
	Gateway6    netip.Addr     `json:"gateway6,omitzero" yaml:"gateway6,omitempty"`
	Routes4     []IPRoute      `json:"routes4,omitempty" yaml:"routes4,omitempty"`
	Routes6     []IPRoute      `json:"routes6,omitempty" yaml:"routes6,omitempty"`
}

// Addresses4 returns the IPv4 addresses.
func (c IPConfig) Addresses4() []netip.Prefix {
	return filterPrefixes(c.Addresses, true)
}

// Addresses6 returns the IPv6 addresses.
func (c IPConfig) Addresses6() []netip.Prefix {
	return filterPrefixes(c.Addresses, false)
}

func filterPrefixes(in []netip.Prefix, v4 bool) []netip.Prefix {
	var out []netip.Prefix
	for _, p := range in {
		if p.Addr().Is4() == v4 {
			out = append(out, p)
		}
	}
	return out
}

func (c IPConfig) Clone() IPConfig {
	out := c
	out.Addresses = slices.Clone(c.Addresses)
	out.Nameservers = slices.Clone(c.Nameservers)
	out.Routes4 = cloneRoutes(c.Routes4)
	out.Routes6 = cloneRoutes(c.Routes6)
	return out
}

func cloneRoutes(in []IPRoute) []IPRoute {
	if in == nil {
		return nil
	}
	out := make([]IPRoute, len(in))
	for i, r := range in {
		out[i] = r
		if r.Metric != nil {
			m := *r.Metric
			out[i].Metric = &m
		}
	}
	return out
}

// ParseAddresses parses CIDR strings; a bare address gets a host prefix.
func ParseAddresses(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			addr, aerr := netip.ParseAddr(v)
			if aerr != nil {
				return nil, InvalidValueError("address", v)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseNameservers parses plain IP address strings.
func ParseNameservers(values []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(values))
	for _, v := range values {
		a, err := netip.ParseAddr(v)
		if err != nil {
			return nil, InvalidValueError("nameserver", v)
		}
		out = append(out, a)
	}
	return out, nil
}
