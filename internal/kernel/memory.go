// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package kernel

import (
	"context"
	"sync"

	"go.uber.org/multierr"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

// MemoryAdapter is an in-process network manager. It stores what it is given
// and hands it back on Read, which is enough to run the installer without
// touching the machine. A normalize hook can rewrite connections on the way
// in, the way a real manager fills in defaults or rejects values.
type MemoryAdapter struct {
	mu        sync.Mutex
	state     *model.NetworkState
	normalize func(*model.Connection) error
	writes    int
}

// NewMemoryAdapter starts from a copy of initial, or an empty state.
func NewMemoryAdapter(initial *model.NetworkState) *MemoryAdapter {
	if initial == nil {
		initial = model.NewNetworkState(nil, nil)
	}
	return &MemoryAdapter{state: initial.Clone()}
}

// SetNormalize installs fn, called on a copy of every written connection.
// Returning an error rejects that connection only.
func (m *MemoryAdapter) SetNormalize(fn func(*model.Connection) error) {
	m.mu.Lock()
	m.normalize = fn
	m.mu.Unlock()
}

// Writes returns how many times Write was called.
func (m *MemoryAdapter) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryAdapter) Read(ctx context.Context) (*model.NetworkState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

// Write stores every connection of state, following the same rules as the
// NetworkManager adapter: loopback and generated connections are left
// alone, removed ones are deleted, and failures are reported per connection.
func (m *MemoryAdapter) Write(ctx context.Context, state *model.NetworkState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++

	var errs error
	for _, conn := range state.Connections {
		if conn.IsLoopback() || conn.Generated {
			continue
		}
		if err := m.writeConnection(conn); err != nil {
			errs = multierr.Append(errs, errors.Attr(err, "connection", conn.ID))
		}
	}
	m.bindDevices()
	return errs
}

func (m *MemoryAdapter) writeConnection(conn *model.Connection) error {
	existing, found := m.state.GetConnectionByUUID(conn.UUID)
	if conn.IsRemoved() {
		if found {
			return m.state.ForgetConnection(conn.UUID)
		}
		return nil
	}

	stored := conn.Clone()
	if stored.Status != model.StatusUp {
		stored.Status = model.StatusDown
	}
	if m.normalize != nil {
		if err := m.normalize(stored); err != nil {
			return err
		}
	}
	if found && !existing.IsRemoved() {
		return m.state.UpdateConnection(stored)
	}
	return m.state.AddConnection(stored)
}

// bindDevices records on each device the id of the first up connection bound
// to it by interface name.
func (m *MemoryAdapter) bindDevices() {
	for _, dev := range m.state.Devices {
		dev.Connection = ""
		for _, c := range m.state.LiveConnections() {
			if c.IsUp() && c.Interface == dev.Name {
				dev.Connection = c.ID
				break
			}
		}
	}
}
