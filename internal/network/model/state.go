// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package model holds the network domain types: devices, connections, their
// IP configuration and the NetworkState snapshot that the control loop owns.
package model

import (
	"slices"

	"github.com/google/uuid"
)

// NetworkState is the canonical snapshot of devices and connections.
// It is not safe for concurrent use; the control loop is its only writer.
type NetworkState struct {
	Devices     []*Device     `json:"devices" yaml:"devices"`
	Connections []*Connection `json:"connections" yaml:"connections"`
}

// NewNetworkState builds a state from the given slices, normalizing devices.
func NewNetworkState(devices []*Device, connections []*Connection) *NetworkState {
	for _, d := range devices {
		d.Normalize()
	}
	return &NetworkState{Devices: devices, Connections: connections}
}

// GetConnection returns the live (not removed) connection with the given id.
func (s *NetworkState) GetConnection(id string) (*Connection, bool) {
	for _, c := range s.Connections {
		if c.ID == id && !c.IsRemoved() {
			return c, true
		}
	}
	return nil, false
}

// GetConnectionByUUID returns the connection with the given uuid, including
// one that is marked for removal.
func (s *NetworkState) GetConnectionByUUID(id uuid.UUID) (*Connection, bool) {
	for _, c := range s.Connections {
		if c.UUID == id {
			return c, true
		}
	}
	return nil, false
}

func (s *NetworkState) GetDevice(name string) (*Device, bool) {
	for _, d := range s.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// AddConnection appends conn. The id must not be in use by a live connection
// and the uuid must not be in use at all.
func (s *NetworkState) AddConnection(conn *Connection) error {
	if _, ok := s.GetConnectionByUUID(conn.UUID); ok {
		return DuplicateConnectionError(conn.UUID.String())
	}
	if _, ok := s.GetConnection(conn.ID); ok {
		return DuplicateConnectionError(conn.ID)
	}
	s.Connections = append(s.Connections, conn)
	return nil
}

// UpdateConnection replaces the connection that has conn's uuid.
func (s *NetworkState) UpdateConnection(conn *Connection) error {
	i := s.indexByUUID(conn.UUID)
	if i < 0 {
		return UnknownConnectionError(conn.UUID.String())
	}
	if other, ok := s.GetConnection(conn.ID); ok && other.UUID != conn.UUID {
		return DuplicateConnectionError(conn.ID)
	}
	s.Connections[i] = conn
	return nil
}

// RemoveConnection marks the connection for removal. Its ports are detached.
// The connection is dropped by the adapter on the next apply.
func (s *NetworkState) RemoveConnection(id uuid.UUID) error {
	conn, ok := s.GetConnectionByUUID(id)
	if !ok {
		return UnknownConnectionError(id.String())
	}
	conn.Status = StatusRemoved
	for _, c := range s.Connections {
		if c.Controller != nil && *c.Controller == id {
			c.Controller = nil
		}
	}
	return nil
}

// ForgetConnection drops the connection without going through the
// removal phase. Used when the network manager already deleted it.
func (s *NetworkState) ForgetConnection(id uuid.UUID) error {
	i := s.indexByUUID(id)
	if i < 0 {
		return UnknownConnectionError(id.String())
	}
	s.Connections = slices.Delete(s.Connections, i, i+1)
	return nil
}

// SetPorts makes the named connections the ports of controller. A port is
// matched by interface name or by id. Connections previously attached to the
// controller but not listed are detached. On error nothing is changed.
func (s *NetworkState) SetPorts(controller uuid.UUID, ports []string) error {
	ctrl, ok := s.GetConnectionByUUID(controller)
	if !ok || ctrl.IsRemoved() {
		return UnknownConnectionError(controller.String())
	}
	if !ctrl.IsController() {
		return NotControllerError(ctrl.ID)
	}

	matched := make([]*Connection, 0, len(ports))
	for _, name := range ports {
		port := s.findPort(name)
		if port == nil {
			return UnknownConnectionError(name)
		}
		matched = append(matched, port)
	}

	for _, c := range s.Connections {
		if c.Controller != nil && *c.Controller == controller && !slices.Contains(matched, c) {
			c.Controller = nil
		}
	}
	for _, port := range matched {
		id := controller
		port.Controller = &id
	}
	return nil
}

func (s *NetworkState) findPort(name string) *Connection {
	for _, c := range s.Connections {
		if c.IsRemoved() {
			continue
		}
		if c.Interface == name || c.ID == name {
			return c
		}
	}
	return nil
}

// PortsOf lists the ports of a controller, by interface name when bound and
// by id otherwise.
func (s *NetworkState) PortsOf(controller uuid.UUID) ([]string, error) {
	if _, ok := s.GetConnectionByUUID(controller); !ok {
		return nil, UnknownConnectionError(controller.String())
	}
	var ports []string
	for _, c := range s.Connections {
		if c.Controller != nil && *c.Controller == controller && !c.IsRemoved() {
			ports = append(ports, c.PortName())
		}
	}
	return ports, nil
}

// LiveConnections returns the connections not marked for removal.
func (s *NetworkState) LiveConnections() []*Connection {
	out := make([]*Connection, 0, len(s.Connections))
	for _, c := range s.Connections {
		if !c.IsRemoved() {
			out = append(out, c)
		}
	}
	return out
}

func (s *NetworkState) AddDevice(dev *Device) error {
	if _, ok := s.GetDevice(dev.Name); ok {
		return DuplicateDeviceError(dev.Name)
	}
	dev.Normalize()
	s.Devices = append(s.Devices, dev)
	return nil
}

func (s *NetworkState) UpdateDevice(name string, dev *Device) error {
	i := slices.IndexFunc(s.Devices, func(d *Device) bool { return d.Name == name })
	if i < 0 {
		return UnknownDeviceError(name)
	}
	dev.Normalize()
	s.Devices[i] = dev
	return nil
}

func (s *NetworkState) RemoveDevice(name string) error {
	i := slices.IndexFunc(s.Devices, func(d *Device) bool { return d.Name == name })
	if i < 0 {
		return UnknownDeviceError(name)
	}
	s.Devices = slices.Delete(s.Devices, i, i+1)
	return nil
}

func (s *NetworkState) indexByUUID(id uuid.UUID) int {
	return slices.IndexFunc(s.Connections, func(c *Connection) bool { return c.UUID == id })
}

// Clone returns a deep copy of the state.
func (s *NetworkState) Clone() *NetworkState {
	out := &NetworkState{
		Devices:     make([]*Device, len(s.Devices)),
		Connections: make([]*Connection, len(s.Connections)),
	}
	for i, d := range s.Devices {
		out.Devices[i] = d.Clone()
	}
	for i, c := range s.Connections {
		out.Connections[i] = c.Clone()
	}
	return out
}
