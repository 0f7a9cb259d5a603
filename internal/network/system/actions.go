// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package system

import (
	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"grimm.is/netinstall/internal/network/model"
)

// Response is the single reply to an action.
type Response[T any] struct {
	Value T
	Err   error
}

// Reply is the channel an action is answered on. The loop sends on it
// exactly once; callers create it with a buffer of one.
type Reply[T any] chan Response[T]

func (r Reply[T]) send(v T, err error) {
	r <- Response[T]{Value: v, Err: err}
}

// Action is a request to the control loop. The set is closed: only the types
// in this file implement it.
type Action interface {
	name() string
}

// ApplyResult reports which connections could not be written. The state
// after an apply is whatever the manager reports, failed or not.
type ApplyResult struct {
	Failed []string `json:"failed,omitempty"`
}

// ControllerInfo is a bond or bridge with the names of its ports.
type ControllerInfo struct {
	Connection *model.Connection
	Ports      []string
}

// AddConnection registers a new connection. Its id may be rewritten to keep
// ids unique; the reply is the published path.
type AddConnection struct {
	Conn  *model.Connection
	Reply Reply[godbus.ObjectPath]
}

// GetConnection returns a copy of a live connection.
type GetConnection struct {
	UUID  uuid.UUID
	Reply Reply[*model.Connection]
}

// GetConnections returns copies of every live connection.
type GetConnections struct {
	Reply Reply[[]*model.Connection]
}

type GetConnectionPath struct {
	UUID  uuid.UUID
	Reply Reply[godbus.ObjectPath]
}

type GetConnectionPathByID struct {
	ID    string
	Reply Reply[godbus.ObjectPath]
}

// GetController returns a controller connection and its ports.
type GetController struct {
	UUID  uuid.UUID
	Reply Reply[ControllerInfo]
}

type GetConnectionsPaths struct {
	Reply Reply[[]godbus.ObjectPath]
}

type GetDevicesPaths struct {
	Reply Reply[[]godbus.ObjectPath]
}

type GetDevice struct {
	Name  string
	Reply Reply[*model.Device]
}

type GetDevices struct {
	Reply Reply[[]*model.Device]
}

// GetState returns a deep copy of the whole state.
type GetState struct {
	Reply Reply[*model.NetworkState]
}

// SetPorts makes ports (interface names or ids) the only ports of a
// controller.
type SetPorts struct {
	UUID  uuid.UUID
	Ports []string
	Reply Reply[struct{}]
}

// UpdateConnection replaces the connection that has Conn's uuid.
type UpdateConnection struct {
	Conn  *model.Connection
	Reply Reply[struct{}]
}

// RemoveConnection marks a connection for removal on the next apply.
type RemoveConnection struct {
	UUID  uuid.UUID
	Reply Reply[struct{}]
}

// Apply writes the state to the manager and reads it back.
type Apply struct {
	Reply Reply[ApplyResult]
}

// The actions below are sent by the watcher when the manager reports changes
// made outside the loop.

type AddDevice struct {
	Dev   *model.Device
	Reply Reply[struct{}]
}

type UpdateDevice struct {
	Name  string
	Dev   *model.Device
	Reply Reply[struct{}]
}

type RemoveDevice struct {
	Name  string
	Reply Reply[struct{}]
}

// NewConnection adds a connection that already exists in the manager.
type NewConnection struct {
	Conn  *model.Connection
	Reply Reply[struct{}]
}

// ForgetConnection drops a connection deleted in the manager.
type ForgetConnection struct {
	UUID  uuid.UUID
	Reply Reply[struct{}]
}

func (AddConnection) name() string         { return "add_connection" }
func (GetConnection) name() string         { return "get_connection" }
func (GetConnections) name() string        { return "get_connections" }
func (GetConnectionPath) name() string     { return "get_connection_path" }
func (GetConnectionPathByID) name() string { return "get_connection_path_by_id" }
func (GetController) name() string         { return "get_controller" }
func (GetConnectionsPaths) name() string   { return "get_connections_paths" }
func (GetDevicesPaths) name() string       { return "get_devices_paths" }
func (GetDevice) name() string             { return "get_device" }
func (GetDevices) name() string            { return "get_devices" }
func (GetState) name() string              { return "get_state" }
func (SetPorts) name() string              { return "set_ports" }
func (UpdateConnection) name() string      { return "update_connection" }
func (RemoveConnection) name() string      { return "remove_connection" }
func (Apply) name() string                 { return "apply" }
func (AddDevice) name() string             { return "add_device" }
func (UpdateDevice) name() string          { return "update_device" }
func (RemoveDevice) name() string          { return "remove_device" }
func (NewConnection) name() string         { return "new_connection" }
func (ForgetConnection) name() string      { return "forget_connection" }
