// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import (
	"net"
	"strings"

	"grimm.is/netinstall/internal/netutil"
)

// MacAddressKind tells whether a MAC address is a literal value or one of the
// policies understood by the network manager.
type MacAddressKind uint8

const (
	MacUnset MacAddressKind = iota
	MacPreserve
	MacPermanent
	MacRandom
	MacStable
	MacCustom
)

var macKeywords = map[string]MacAddressKind{
	"preserve":  MacPreserve,
	"permanent": MacPermanent,
	"random":    MacRandom,
	"stable":    MacStable,
}

// MacAddress is either unset, a cloning policy or a literal address.
type MacAddress struct {
	Kind MacAddressKind
	Addr net.HardwareAddr
}

// CustomMac returns a literal MAC address value.
func CustomMac(addr net.HardwareAddr) MacAddress {
	return MacAddress{Kind: MacCustom, Addr: addr}
}

// ParseMacAddress parses a policy keyword or a literal address. The empty
// string is Unset.
func ParseMacAddress(s string) (MacAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MacAddress{}, nil
	}
	if kind, ok := macKeywords[strings.ToLower(s)]; ok {
		return MacAddress{Kind: kind}, nil
	}
	hw, err := netutil.ParseMAC(s)
	if err != nil {
		return MacAddress{}, InvalidMacAddressError(s)
	}
	return CustomMac(hw), nil
}

// IsUnset reports whether no MAC address or policy is configured.
func (m MacAddress) IsUnset() bool {
	return m.Kind == MacUnset
}

func (m MacAddress) String() string {
	switch m.Kind {
	case MacCustom:
		return netutil.FormatMAC(m.Addr)
	case MacUnset:
		return ""
	}
	for k, kind := range macKeywords {
		if kind == m.Kind {
			return k
		}
	}
	return ""
}

func (m MacAddress) Equal(other MacAddress) bool {
	return m.Kind == other.Kind && m.String() == other.String()
}

func (m MacAddress) Clone() MacAddress {
	if m.Addr == nil {
		return m
	}
	return MacAddress{Kind: m.Kind, Addr: append(net.HardwareAddr(nil), m.Addr...)}
}

func (m MacAddress) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MacAddress) UnmarshalText(b []byte) error {
	parsed, err := ParseMacAddress(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
