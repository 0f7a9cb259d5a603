// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package kernel

import (
	"github.com/vishvananda/netlink"

	"grimm.is/netinstall/internal/errors"
)

var errNoNetlink = errors.New(errors.KindUnavailable, "netlink is only available on linux")

type systemNetlinker struct{}

func (systemNetlinker) LinkList() ([]netlink.Link, error) { return nil, errNoNetlink }

func (systemNetlinker) AddrList(netlink.Link, Family) ([]netlink.Addr, error) {
	return nil, errNoNetlink
}

func (systemNetlinker) RouteList(netlink.Link, Family) ([]netlink.Route, error) {
	return nil, errNoNetlink
}

func (systemNetlinker) IsWireless(string) bool { return false }

func (systemNetlinker) Driver(string) string { return "" }
