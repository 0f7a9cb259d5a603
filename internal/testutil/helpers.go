// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"

	godbus "github.com/godbus/dbus/v5"
)

// RequireSystemBus skips the test unless NETINSTALL_DBUS_TEST is set and the
// system bus answers. Tests behind it talk to a real NetworkManager.
func RequireSystemBus(t *testing.T) *godbus.Conn {
	t.Helper()
	if os.Getenv("NETINSTALL_DBUS_TEST") == "" {
		t.Skip("Skipping test: requires NETINSTALL_DBUS_TEST environment")
	}
	conn, err := godbus.ConnectSystemBus()
	if err != nil {
		t.Skipf("Skipping test: system bus unavailable: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// RequireNetlink skips the test unless NETINSTALL_NETLINK_TEST is set.
// Tests behind it read the links of the machine they run on.
func RequireNetlink(t *testing.T) {
	t.Helper()
	if os.Getenv("NETINSTALL_NETLINK_TEST") == "" {
		t.Skip("Skipping test: requires NETINSTALL_NETLINK_TEST environment")
	}
}
