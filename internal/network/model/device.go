// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package model

import "fmt"

// DeviceType is the kind of a network interface.
type DeviceType uint8

const (
	DeviceTypeLoopback DeviceType = iota
	DeviceTypeEthernet
	DeviceTypeWireless
	DeviceTypeDummy
	DeviceTypeBond
	DeviceTypeBridge
)

var deviceTypeNames = map[DeviceType]string{
	DeviceTypeLoopback: "loopback",
	DeviceTypeEthernet: "ethernet",
	DeviceTypeWireless: "wireless",
	DeviceTypeDummy:    "dummy",
	DeviceTypeBond:     "bond",
	DeviceTypeBridge:   "bridge",
}

func (t DeviceType) String() string {
	if s, ok := deviceTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DeviceType(%d)", uint8(t))
}

func (t DeviceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// DeviceState is the abstract state of a device. The external manager reports
// a richer set of states; see nm.DeviceStateFromNM for the mapping.
type DeviceState uint8

const (
	DeviceStateUnknown DeviceState = iota
	DeviceStateUnmanaged
	DeviceStateUnavailable
	DeviceStateConnecting
	DeviceStateConnected
	DeviceStateDisconnecting
	DeviceStateDisconnected
	DeviceStateFailed
)

var deviceStateNames = map[DeviceState]string{
	DeviceStateUnknown:       "unknown",
	DeviceStateUnmanaged:     "unmanaged",
	DeviceStateUnavailable:   "unavailable",
	DeviceStateConnecting:    "connecting",
	DeviceStateConnected:     "connected",
	DeviceStateDisconnecting: "disconnecting",
	DeviceStateDisconnected:  "disconnected",
	DeviceStateFailed:        "failed",
}

func (s DeviceState) String() string {
	if n, ok := deviceStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("DeviceState(%d)", uint8(s))
}

func (s DeviceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Device is a network interface observed on the running system. Devices are
// read-only for the installer and are replaced wholesale on every read.
type Device struct {
	Name       string      `json:"name" yaml:"name"`
	Type       DeviceType  `json:"type" yaml:"type"`
	State      DeviceState `json:"state" yaml:"state"`
	MacAddress MacAddress  `json:"macAddress" yaml:"mac_address"`
	IPConfig   *IPConfig   `json:"ipConfig,omitempty" yaml:"ip_config,omitempty"`
	// Connection is the id of the connection currently applied to the device.
	Connection string `json:"connection,omitempty" yaml:"connection,omitempty"`
}

// Normalize enforces that IP configuration is only present while connected.
func (d *Device) Normalize() {
	if d.State != DeviceStateConnected {
		d.IPConfig = nil
	}
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	c.MacAddress = d.MacAddress.Clone()
	if d.IPConfig != nil {
		ip := d.IPConfig.Clone()
		c.IPConfig = &ip
	}
	return &c
}
