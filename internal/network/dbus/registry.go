// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dbus

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	godbus "github.com/godbus/dbus/v5"

	"grimm.is/netinstall/internal/errors"
	"grimm.is/netinstall/internal/network/model"
)

// collection hands out object paths below one base path. Indexes only grow
// until the collection is reset.
type collection struct {
	base  godbus.ObjectPath
	next  int
	paths map[string]entry
}

type entry struct {
	path  godbus.ObjectPath
	index int
}

func newCollection(base godbus.ObjectPath) *collection {
	return &collection{base: base, paths: map[string]entry{}}
}

func (c *collection) register(key string) godbus.ObjectPath {
	e := entry{path: godbus.ObjectPath(fmt.Sprintf("%s/%d", c.base, c.next)), index: c.next}
	c.next++
	c.paths[key] = e
	return e.path
}

func (c *collection) rename(from, to string) error {
	e, ok := c.paths[from]
	if !ok {
		return errors.Errorf(errors.KindNotFound, "%q is not registered", from)
	}
	if from == to {
		return nil
	}
	if _, taken := c.paths[to]; taken {
		return errors.Errorf(errors.KindConflict, "%q is already registered", to)
	}
	delete(c.paths, from)
	c.paths[to] = e
	return nil
}

func (c *collection) lookup(path godbus.ObjectPath) (string, bool) {
	for k, e := range c.paths {
		if e.path == path {
			return k, true
		}
	}
	return "", false
}

func (c *collection) sorted() []godbus.ObjectPath {
	entries := make([]entry, 0, len(c.paths))
	for _, e := range c.paths {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].index < entries[j].index })
	out := make([]godbus.ObjectPath, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out
}

func (c *collection) reset() {
	c.next = 0
	c.paths = map[string]entry{}
}

// ObjectsRegistry maps connection ids and device names to object paths.
// It is not safe for concurrent use; the Tree guards it with its lock.
type ObjectsRegistry struct {
	connections *collection
	devices     *collection
	// ids outlives resets so that a suffix is never handed out twice.
	ids *model.IDAllocator
}

func NewObjectsRegistry() *ObjectsRegistry {
	return &ObjectsRegistry{
		connections: newCollection(ConnectionsPath),
		devices:     newCollection(DevicesPath),
		ids:         model.NewIDAllocator(),
	}
}

// RegisterConnection assigns the next connection path. When id is taken the
// connection is registered as "<id>-N", N being one more than any suffix
// issued for id so far or in use now.
func (r *ObjectsRegistry) RegisterConnection(id string) (string, godbus.ObjectPath) {
	id = r.uniqueID(id)
	return id, r.connections.register(id)
}

func (r *ObjectsRegistry) uniqueID(id string) string {
	return r.ids.Unique(id, slices.Collect(maps.Keys(r.connections.paths)))
}

// RegisterDevice assigns the next device path.
func (r *ObjectsRegistry) RegisterDevice(name string) (godbus.ObjectPath, error) {
	if _, taken := r.devices.paths[name]; taken {
		return "", model.DuplicateDeviceError(name)
	}
	return r.devices.register(name), nil
}

// RenameConnection moves the path of a connection to a new id.
func (r *ObjectsRegistry) RenameConnection(from, to string) error {
	return r.connections.rename(from, to)
}

func (r *ObjectsRegistry) RenameDevice(from, to string) error {
	return r.devices.rename(from, to)
}

func (r *ObjectsRegistry) ConnectionPath(id string) (godbus.ObjectPath, bool) {
	e, ok := r.connections.paths[id]
	return e.path, ok
}

func (r *ObjectsRegistry) DevicePath(name string) (godbus.ObjectPath, bool) {
	e, ok := r.devices.paths[name]
	return e.path, ok
}

// ConnectionID returns the id registered at path.
func (r *ObjectsRegistry) ConnectionID(path godbus.ObjectPath) (string, bool) {
	return r.connections.lookup(path)
}

func (r *ObjectsRegistry) DeviceName(path godbus.ObjectPath) (string, bool) {
	return r.devices.lookup(path)
}

// UnregisterConnection forgets id. Its path is not reused until the next
// reset.
func (r *ObjectsRegistry) UnregisterConnection(id string) (godbus.ObjectPath, bool) {
	e, ok := r.connections.paths[id]
	delete(r.connections.paths, id)
	return e.path, ok
}

func (r *ObjectsRegistry) UnregisterDevice(name string) (godbus.ObjectPath, bool) {
	e, ok := r.devices.paths[name]
	delete(r.devices.paths, name)
	return e.path, ok
}

// ConnectionsPaths returns the connection paths in registration order.
func (r *ObjectsRegistry) ConnectionsPaths() []godbus.ObjectPath {
	return r.connections.sorted()
}

func (r *ObjectsRegistry) DevicesPaths() []godbus.ObjectPath {
	return r.devices.sorted()
}

// ResetConnections starts a new generation of connection paths.
func (r *ObjectsRegistry) ResetConnections() {
	r.connections.reset()
}

func (r *ObjectsRegistry) ResetDevices() {
	r.devices.reset()
}
