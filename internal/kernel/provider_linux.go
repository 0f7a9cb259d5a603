// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package kernel

import (
	"os"
	"path/filepath"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// systemNetlinker uses the real netlink socket.
type systemNetlinker struct{}

func (systemNetlinker) LinkList() ([]netlink.Link, error) {
	return netlink.LinkList()
}

func (systemNetlinker) AddrList(link netlink.Link, family Family) ([]netlink.Addr, error) {
	return netlink.AddrList(link, afOf(family))
}

func (systemNetlinker) RouteList(link netlink.Link, family Family) ([]netlink.Route, error) {
	return netlink.RouteList(link, afOf(family))
}

// IsWireless reports whether the kernel exposes wireless extensions or a
// phy80211 link for the interface.
func (systemNetlinker) IsWireless(name string) bool {
	for _, p := range []string{"wireless", "phy80211"} {
		if _, err := os.Stat(filepath.Join("/sys/class/net", name, p)); err == nil {
			return true
		}
	}
	return false
}

func (systemNetlinker) Driver(name string) string {
	eth, err := ethtool.NewEthtool()
	if err != nil {
		return ""
	}
	defer eth.Close()
	driver, err := eth.DriverName(name)
	if err != nil {
		return ""
	}
	return driver
}

func afOf(f Family) int {
	if f == FamilyV6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}
