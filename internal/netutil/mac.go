// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netutil

import (
	"fmt"
	"net"
	"strings"
)

// ParseMAC parses a 48-bit hardware address. Longer EUI-64 or InfiniBand
// addresses are rejected since connections only carry Ethernet MACs.
func ParseMAC(macStr string) (net.HardwareAddr, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(macStr))
	if err != nil {
		return nil, err
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("not a 48-bit hardware address: %q", macStr)
	}
	return hw, nil
}

// FormatMAC renders a 48-bit address the way NetworkManager does (upper case).
func FormatMAC(mac []byte) string {
	if len(mac) != 6 {
		return ""
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
