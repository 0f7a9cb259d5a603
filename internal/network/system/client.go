// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package system

import (
	"context"

	godbus "github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

// ErrResponseClosed is returned when the loop stops before replying.
var ErrResponseClosed = errors.New(errors.KindUnavailable, "response channel closed")

// Client sends actions to the control loop and waits for the replies. It is
// safe for concurrent use; requests are handled in the order they arrive.
type Client struct {
	actions chan<- Action
	done    <-chan struct{}
}

func request[T any](ctx context.Context, c *Client, build func(Reply[T]) Action) (T, error) {
	var zero T
	reply := make(Reply[T], 1)
	select {
	case c.actions <- build(reply):
	case <-c.done:
		return zero, ErrResponseClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp.Value, resp.Err
	case <-c.done:
		select {
		case resp := <-reply:
			return resp.Value, resp.Err
		default:
			return zero, ErrResponseClosed
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func requestAck(ctx context.Context, c *Client, build func(Reply[struct{}]) Action) error {
	_, err := request(ctx, c, build)
	return err
}

// AddConnection adds conn and returns its object path. The stored id may
// differ from conn.ID; read the connection back to learn it.
func (c *Client) AddConnection(ctx context.Context, conn *model.Connection) (godbus.ObjectPath, error) {
	return request(ctx, c, func(r Reply[godbus.ObjectPath]) Action {
		return AddConnection{Conn: conn, Reply: r}
	})
}

func (c *Client) GetConnection(ctx context.Context, id uuid.UUID) (*model.Connection, error) {
	return request(ctx, c, func(r Reply[*model.Connection]) Action {
		return GetConnection{UUID: id, Reply: r}
	})
}

func (c *Client) GetConnections(ctx context.Context) ([]*model.Connection, error) {
	return request(ctx, c, func(r Reply[[]*model.Connection]) Action {
		return GetConnections{Reply: r}
	})
}

func (c *Client) GetConnectionPath(ctx context.Context, id uuid.UUID) (godbus.ObjectPath, error) {
	return request(ctx, c, func(r Reply[godbus.ObjectPath]) Action {
		return GetConnectionPath{UUID: id, Reply: r}
	})
}

func (c *Client) GetConnectionPathByID(ctx context.Context, id string) (godbus.ObjectPath, error) {
	return request(ctx, c, func(r Reply[godbus.ObjectPath]) Action {
		return GetConnectionPathByID{ID: id, Reply: r}
	})
}

func (c *Client) GetController(ctx context.Context, id uuid.UUID) (ControllerInfo, error) {
	return request(ctx, c, func(r Reply[ControllerInfo]) Action {
		return GetController{UUID: id, Reply: r}
	})
}

func (c *Client) GetConnectionsPaths(ctx context.Context) ([]godbus.ObjectPath, error) {
	return request(ctx, c, func(r Reply[[]godbus.ObjectPath]) Action {
		return GetConnectionsPaths{Reply: r}
	})
}

func (c *Client) GetDevicesPaths(ctx context.Context) ([]godbus.ObjectPath, error) {
	return request(ctx, c, func(r Reply[[]godbus.ObjectPath]) Action {
		return GetDevicesPaths{Reply: r}
	})
}

func (c *Client) GetDevice(ctx context.Context, name string) (*model.Device, error) {
	return request(ctx, c, func(r Reply[*model.Device]) Action {
		return GetDevice{Name: name, Reply: r}
	})
}

func (c *Client) GetDevices(ctx context.Context) ([]*model.Device, error) {
	return request(ctx, c, func(r Reply[[]*model.Device]) Action {
		return GetDevices{Reply: r}
	})
}

// State returns a copy of the whole network state.
func (c *Client) State(ctx context.Context) (*model.NetworkState, error) {
	return request(ctx, c, func(r Reply[*model.NetworkState]) Action {
		return GetState{Reply: r}
	})
}

func (c *Client) SetPorts(ctx context.Context, id uuid.UUID, ports []string) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return SetPorts{UUID: id, Ports: ports, Reply: r}
	})
}

func (c *Client) UpdateConnection(ctx context.Context, conn *model.Connection) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return UpdateConnection{Conn: conn, Reply: r}
	})
}

// UpdateConnectionWith reads a connection, applies fn to the copy and
// stores it. The read and the write are two separate actions.
func (c *Client) UpdateConnectionWith(ctx context.Context, id uuid.UUID, fn func(*model.Connection)) error {
	conn, err := c.GetConnection(ctx, id)
	if err != nil {
		return err
	}
	fn(conn)
	return c.UpdateConnection(ctx, conn)
}

func (c *Client) RemoveConnection(ctx context.Context, id uuid.UUID) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return RemoveConnection{UUID: id, Reply: r}
	})
}

// Apply writes the state to the network manager and reloads it.
func (c *Client) Apply(ctx context.Context) (ApplyResult, error) {
	return request(ctx, c, func(r Reply[ApplyResult]) Action {
		return Apply{Reply: r}
	})
}

func (c *Client) AddDevice(ctx context.Context, dev *model.Device) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return AddDevice{Dev: dev, Reply: r}
	})
}

func (c *Client) UpdateDevice(ctx context.Context, name string, dev *model.Device) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return UpdateDevice{Name: name, Dev: dev, Reply: r}
	})
}

func (c *Client) RemoveDevice(ctx context.Context, name string) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return RemoveDevice{Name: name, Reply: r}
	})
}

func (c *Client) NewConnection(ctx context.Context, conn *model.Connection) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return NewConnection{Conn: conn, Reply: r}
	})
}

func (c *Client) ForgetConnection(ctx context.Context, id uuid.UUID) error {
	return requestAck(ctx, c, func(r Reply[struct{}]) Action {
		return ForgetConnection{UUID: id, Reply: r}
	})
}
